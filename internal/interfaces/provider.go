package interfaces

import "context"

// Provider is the interface for model providers.
// Implementations include Gemini, Anthropic and OpenAI-compatible backends.
type Provider interface {
	// Name returns the provider identifier (e.g., "gemini", "openai").
	Name() string

	// Chat sends the replayed history plus tool declarations and returns
	// either final text or requested tool calls.
	Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error)

	// HealthCheck verifies the provider is reachable and functional.
	HealthCheck(ctx context.Context) error
}
