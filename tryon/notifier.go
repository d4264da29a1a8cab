package tryon

import (
	"context"
	"time"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// Notifier delivers user-visible task signals. Delivery is best effort.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, event models.Event) error

func (f NotifierFunc) Notify(ctx context.Context, event models.Event) error {
	return f(ctx, event)
}

func newEvent(eventType models.EventType, rec models.TryOnTask) models.Event {
	return models.Event{
		Type:      eventType,
		TaskID:    rec.ID,
		UserID:    rec.Request.UserID,
		ProductID: rec.Request.ProductID,
		Kind:      rec.Request.Kind,
		State:     rec.State,
		Attempt:   rec.Attempts,
		At:        time.Now(),
	}
}

// notifySafely never lets a notifier error or panic reach the caller.
func notifySafely(ctx context.Context, n Notifier, logger logrus.FieldLogger, event models.Event) {
	if n == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			logger.WithField("task_id", event.TaskID).Errorf("notifier panicked: %v", r)
		}
	}()
	if err := n.Notify(ctx, event); err != nil {
		logger.WithError(err).WithFields(logrus.Fields{
			"task_id": event.TaskID,
			"event":   event.Type,
		}).Warn("notification not delivered")
	}
}
