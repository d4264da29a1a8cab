package providers

import (
	"context"

	"github.com/raushankrgupta/tryon-orchestrator/models"
)

// Provider defines the interface for all personalization backends
type Provider interface {
	// Submit hands a try-on request to the backend and returns its task id
	Submit(ctx context.Context, req models.TryOnRequest) (string, error)
	// CheckStatus reports the current state of a submitted task
	CheckStatus(ctx context.Context, providerTaskID string) (models.StatusReport, error)
}
