package studio

import (
	"context"
)

// ConnectResult is an established publishing connection.
type ConnectResult struct {
	// Resource is the provider's handle for the live session, e.g. a
	// WHIP resource URL. May be empty.
	Resource string

	// Close tears the connection down. Never nil on success.
	Close func(ctx context.Context) error
}

// Connector establishes a publishing connection to one destination.
// Implementations own the wire protocol; the session only drives the
// state machine. Connect must respect ctx cancellation.
type Connector interface {
	Connect(ctx context.Context, dest Destination) (*ConnectResult, error)
}

// ConnectorFunc adapts a function to the Connector interface.
type ConnectorFunc func(ctx context.Context, dest Destination) (*ConnectResult, error)

// Connect implements Connector.
func (f ConnectorFunc) Connect(ctx context.Context, dest Destination) (*ConnectResult, error) {
	return f(ctx, dest)
}
