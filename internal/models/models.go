// Package models implements the chat providers behind
// interfaces.Provider: the Gemini API client, an OpenAI-compatible REST
// client for self-hosted backends, and the Anthropic messages API.
package models

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/charla-ai/charla/internal/interfaces"
)

// Config selects and parameterizes a provider.
type Config struct {
	Provider  string `json:"provider"` // "gemini" (default), "openai" or "anthropic"
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"base_url,omitempty"` // custom API endpoint
	MaxTokens int    `json:"max_tokens,omitempty"`
	APIKey    string `json:"-"` // from env, never persisted
}

// New builds the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (interfaces.Provider, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case "", "gemini":
		return NewGemini(ctx, cfg, logger)
	case "openai":
		return NewOpenAI(cfg, logger), nil
	case "anthropic":
		return NewAnthropic(cfg, logger), nil
	default:
		return nil, fmt.Errorf("unknown model provider %q", cfg.Provider)
	}
}
