// Package notify delivers try-on events to users and other services.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// SubjectPrefix is prepended to the event type, e.g. tryon.ready.
const SubjectPrefix = "tryon"

// Publisher is the part of *nats.Conn the notifier needs.
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NatsNotifier publishes every event as JSON on tryon.<type>.
type NatsNotifier struct {
	pub Publisher
}

func NewNatsNotifier(pub Publisher) *NatsNotifier {
	return &NatsNotifier{pub: pub}
}

func (n *NatsNotifier) Notify(_ context.Context, event models.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	subject := SubjectPrefix + "." + string(event.Type)
	if err := n.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish %s: %w", subject, err)
	}
	return nil
}
