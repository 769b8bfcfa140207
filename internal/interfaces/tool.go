package interfaces

import "context"

// ToolGateway owns the single logical connection to the tool provider.
type ToolGateway interface {
	// Discover returns the provider's tool descriptors. The result is
	// cached for the gateway's lifetime; the first call connects.
	Discover(ctx context.Context) ([]ToolDescriptor, error)

	// Refresh forces a new discovery, replacing the cached descriptor set.
	Refresh(ctx context.Context) ([]ToolDescriptor, error)

	// Invoke executes one tool call and returns its textual result.
	// Failures are reported as *gateway.ToolError values: an unknown name
	// fails without touching the network, a slow provider fails with a
	// timeout rather than hanging.
	Invoke(ctx context.Context, name string, args map[string]any) (string, error)

	// Close tears down the connection. Safe to call when never connected.
	Close() error
}
