// Package provider defines the interface for delivery backends that the queue
// manager hands accepted messages to.
package provider

import (
	"context"

	"github.com/shineum/inbound-mta/internal/message"
)

// Provider is the interface that delivery backends must implement.
// Each provider relays one spooled message to its target service
// (e.g., stdout, AWS SES).
type Provider interface {
	// Deliver relays msg to its single envelope recipient.
	// It returns an error if the delivery fails.
	Deliver(ctx context.Context, msg *message.Message) error

	// Name returns the human-readable name of this provider.
	Name() string
}
