package notify

import (
	"context"
	"errors"

	"github.com/raushankrgupta/tryon-orchestrator/models"
	"github.com/sirupsen/logrus"
)

// Notifier matches tryon.Notifier.
type Notifier interface {
	Notify(ctx context.Context, event models.Event) error
}

// Multi delivers to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, event models.Event) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogNotifier writes events to the log. It is the fallback when no broker is configured.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

func (n LogNotifier) Notify(_ context.Context, event models.Event) error {
	entry := n.Logger.WithFields(logrus.Fields{
		"task_id":    event.TaskID,
		"user_id":    event.UserID,
		"product_id": event.ProductID,
		"state":      event.State,
		"attempt":    event.Attempt,
	})
	if event.Type == models.EventProgress {
		entry.Debug("try-on progress")
		return nil
	}
	entry.WithField("message", event.Message).Infof("try-on %s", event.Type)
	return nil
}
