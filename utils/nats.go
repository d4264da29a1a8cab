package utils

import (
	"fmt"

	"github.com/nats-io/nats.go"
)

// ConnectNats returns a connection, or nil when url is empty.
func ConnectNats(url string) (*nats.Conn, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url, nats.Name("tryon-orchestrator"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}

	return nc, nil
}
