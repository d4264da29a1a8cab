package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Kind is the type of media a try-on produces.
type Kind string

const (
	KindImage Kind = "image"
	KindVideo Kind = "video"
)

// Valid reports whether k is a supported kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindVideo
}

// TaskState is the lifecycle state of a try-on task.
type TaskState string

const (
	StateCreated   TaskState = "created"
	StateDebited   TaskState = "debited"
	StateSubmitted TaskState = "submitted"
	StatePolling   TaskState = "polling"
	StateCompleted TaskState = "completed"
	StateFailed    TaskState = "failed"
	StateTimedOut  TaskState = "timed_out"
	StateRefunded  TaskState = "refunded"
)

// transitions lists the only forward moves allowed out of each state.
var transitions = map[TaskState][]TaskState{
	StateCreated:   {StateDebited},
	StateDebited:   {StateSubmitted, StateRefunded},
	StateSubmitted: {StatePolling},
	StatePolling:   {StateCompleted, StateFailed, StateTimedOut},
	StateFailed:    {StateRefunded},
	StateTimedOut:  {StateRefunded},
}

// CanTransition reports whether moving from s to next is a legal forward step.
func (s TaskState) CanTransition(next TaskState) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions occur from s.
// Failed and TimedOut are terminal for polling but still owe a refund.
func (s TaskState) Terminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateTimedOut, StateRefunded:
		return true
	}
	return false
}

// TryOnRequest describes one paid try-on attempt. It is never mutated after creation.
type TryOnRequest struct {
	Kind            Kind   `json:"kind"`
	Cost            int64  `json:"cost"`
	UserImageRef    string `json:"user_image"`
	SubjectMediaRef string `json:"subject_media"`
	UserID          string `json:"user_id"`
	ProductID       string `json:"product_id"`
}

// TryOnTask tracks one in-flight attempt.
type TryOnTask struct {
	ID             string       `json:"id"`
	Request        TryOnRequest `json:"request"`
	ProviderTaskID string       `json:"provider_task_id,omitempty"`
	State          TaskState    `json:"state"`
	Attempts       int          `json:"attempts"`
	ResultMedia    []string     `json:"result_media,omitempty"`
	ErrorMessage   string       `json:"error_message,omitempty"`
	Canceled       bool         `json:"canceled,omitempty"`
	CreatedAt      time.Time    `json:"created_at"`
	UpdatedAt      time.Time    `json:"updated_at"`
}

// ProviderStatus is the provider-reported progress of a submitted task.
type ProviderStatus string

const (
	ProviderPending   ProviderStatus = "pending"
	ProviderCompleted ProviderStatus = "completed"
	ProviderFailed    ProviderStatus = "failed"
)

// StatusReport is the result of one provider status check.
type StatusReport struct {
	Status      ProviderStatus `json:"status"`
	ResultMedia []string       `json:"result_media,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// PreviewItem is the product-like entry published to the user's preview
// collection when a try-on completes.
type PreviewItem struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	TaskID    string             `bson:"task_id" json:"task_id"`
	UserID    string             `bson:"user_id" json:"user_id"`
	ProductID string             `bson:"product_id" json:"product_id"` // Back-reference to the originating product
	Kind      Kind               `bson:"kind" json:"kind"`
	Media     []string           `bson:"media" json:"media"`
	Status    string             `bson:"status" json:"status"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
	IsDeleted bool               `bson:"is_deleted" json:"is_deleted"` // Soft delete flag
}
