// Package config loads and persists the daemon configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// Config holds all charla configuration
type Config struct {
	// Server settings
	Server ServerConfig `json:"server"`

	// Session store bounds
	Session SessionConfig `json:"session"`

	// Chat provider selection
	Model ModelConfig `json:"model"`

	// MCP tool provider
	Tools ToolsConfig `json:"tools"`

	// Orchestration loop bounds
	Loop LoopConfig `json:"loop"`

	// Persona card and tool policy files
	Persona PersonaConfig `json:"persona"`

	// Saved-transcript archive
	Archive ArchiveConfig `json:"archive"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
}

type SessionConfig struct {
	MaxSessions   int    `json:"maxSessions"`
	TTLMinutes    int    `json:"ttlMinutes"`
	SweepSchedule string `json:"sweepSchedule"` // cron expression
}

// ModelConfig selects the chat provider. API keys come from the
// environment, never from this file.
type ModelConfig struct {
	Provider  string `json:"provider"` // "gemini", "openai" or "anthropic"
	Model     string `json:"model,omitempty"`
	BaseURL   string `json:"baseUrl,omitempty"`
	MaxTokens int    `json:"maxTokens,omitempty"`
}

type ToolsConfig struct {
	Transport      string            `json:"transport"` // "http" or "stdio"
	URL            string            `json:"url,omitempty"`
	Command        string            `json:"command,omitempty"`
	Args           []string          `json:"args,omitempty"`
	Env            map[string]string `json:"env,omitempty"`
	CallTimeoutSec int               `json:"callTimeoutSec"`
}

type LoopConfig struct {
	MaxIterations int `json:"maxIterations"`
	ParallelTools int `json:"parallelTools"`
}

type PersonaConfig struct {
	CardPath   string `json:"cardPath,omitempty"`
	PolicyPath string `json:"policyPath,omitempty"`
}

type ArchiveConfig struct {
	// Path of the sqlite file; defaults to <dataDir>/archive.db.
	Path string `json:"path,omitempty"`
}

// DefaultConfig returns a sensible default configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:     8400,
			DataDir:  "./data",
			LogLevel: "info",
		},
		Session: SessionConfig{
			MaxSessions:   100,
			TTLMinutes:    60,
			SweepSchedule: "0 * * * *", // hourly
		},
		Model: ModelConfig{
			Provider: "gemini",
			Model:    "gemini-2.5-flash",
		},
		Tools: ToolsConfig{
			Transport:      "http",
			URL:            "http://localhost:8401/mcp",
			CallTimeoutSec: 30,
		},
		Loop: LoopConfig{
			MaxIterations: 5,
			ParallelTools: 1,
		},
	}
}

// Load reads config from a JSON file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Ensure data directory exists
	if err := os.MkdirAll(cfg.Server.DataDir, 0750); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	return cfg, nil
}

// Save writes config to a JSON file
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0640)
}

// SessionTTL returns the idle lifetime as a duration.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Session.TTLMinutes) * time.Minute
}

// CallTimeout returns the per-tool-call deadline as a duration.
func (c *Config) CallTimeout() time.Duration {
	return time.Duration(c.Tools.CallTimeoutSec) * time.Second
}

// ArchivePath resolves the sqlite path, defaulting under the data dir.
func (c *Config) ArchivePath() string {
	if c.Archive.Path != "" {
		return c.Archive.Path
	}
	return filepath.Join(c.Server.DataDir, "archive.db")
}
