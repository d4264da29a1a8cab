package models

import "time"

// EventType names a user-visible try-on signal.
type EventType string

const (
	EventStarted  EventType = "started"
	EventProgress EventType = "progress"
	EventReady    EventType = "ready"
	EventFailed   EventType = "failed"
)

// Event is a fire-and-forget notification about one task.
type Event struct {
	Type      EventType `json:"type"`
	TaskID    string    `json:"task_id"`
	UserID    string    `json:"user_id"`
	ProductID string    `json:"product_id"`
	Kind      Kind      `json:"kind"`
	State     TaskState `json:"state"`
	Attempt   int       `json:"attempt,omitempty"`
	Media     []string  `json:"media,omitempty"`
	Message   string    `json:"message,omitempty"`
	Refunded  bool      `json:"refunded,omitempty"`
	At        time.Time `json:"at"`
}
