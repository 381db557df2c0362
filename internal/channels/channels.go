// Package channels defines the channel adapter contract and the
// supervisor that runs adapters, dispatches inbound messages into turn
// executions, and restarts crashed channel tasks.
package channels

import (
	"context"

	"github.com/zeroclaw-labs/zeroclaw/pkg/models"
)

// Adapter is the contract every messaging surface implements. The core
// never parses channel-specific wire formats; adapters deliver unified
// messages and accept unified replies.
type Adapter interface {
	// Start begins listening for messages. It returns once the adapter
	// is receiving; the message loop runs until the context is cancelled.
	Start(ctx context.Context) error

	// Stop gracefully shuts the adapter down.
	Stop(ctx context.Context) error

	// Send delivers an outbound message to the channel.
	Send(ctx context.Context, msg *models.Message) error

	// Messages returns the inbound stream. The channel closes when the
	// adapter's task exits; the supervisor treats that as a crash and
	// restarts the adapter.
	Messages() <-chan *models.Message

	// Type identifies the channel surface.
	Type() models.ChannelType

	// Status reports the current connection state.
	Status() Status
}

// Status is an adapter's connection state snapshot.
type Status struct {
	Connected bool   `json:"connected"`
	Error     string `json:"error,omitempty"`
}
