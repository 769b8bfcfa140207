package models

import (
	"context"
	"log/slog"
	"os"
	"testing"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestNewSelectsProvider(t *testing.T) {
	ctx := context.Background()

	p, err := New(ctx, Config{Provider: "openai", APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("openai provider failed: %v", err)
	}
	if p.Name() != "openai" {
		t.Errorf("expected openai, got %s", p.Name())
	}

	p, err = New(ctx, Config{Provider: "anthropic", APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("anthropic provider failed: %v", err)
	}
	if p.Name() != "anthropic" {
		t.Errorf("expected anthropic, got %s", p.Name())
	}

	p, err = New(ctx, Config{Provider: "gemini", APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("gemini provider failed: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("expected gemini, got %s", p.Name())
	}
}

func TestNewDefaultsToGemini(t *testing.T) {
	p, err := New(context.Background(), Config{APIKey: "k"}, testLogger())
	if err != nil {
		t.Fatalf("default provider failed: %v", err)
	}
	if p.Name() != "gemini" {
		t.Errorf("expected gemini by default, got %s", p.Name())
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	_, err := New(context.Background(), Config{Provider: "acme", APIKey: "k"}, testLogger())
	if err == nil {
		t.Error("expected error for unknown provider")
	}
}
