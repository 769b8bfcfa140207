package config

import (
	"bufio"
	"errors"
	"os"
	"strconv"
	"strings"
)

// LoadDotEnv loads .env.local and .env from the working directory into
// the process environment. Values already set in the environment win.
func LoadDotEnv() error {
	return loadDotEnvFiles(".env.local", ".env")
}

func loadDotEnvFiles(paths ...string) error {
	for _, path := range paths {
		if err := loadDotEnvFile(path); err != nil {
			return err
		}
	}
	return nil
}

func loadDotEnvFile(path string) error {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer func() { _ = file.Close() }()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if strings.HasPrefix(line, "export ") {
			line = strings.TrimSpace(strings.TrimPrefix(line, "export "))
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" {
			continue
		}

		existing, exists := os.LookupEnv(key)
		if exists && strings.TrimSpace(existing) != "" {
			continue
		}
		if err := os.Setenv(key, unquoteEnvValue(value)); err != nil {
			return err
		}
	}

	return scanner.Err()
}

func unquoteEnvValue(v string) string {
	if len(v) >= 2 {
		if strings.HasPrefix(v, "\"") && strings.HasSuffix(v, "\"") {
			return v[1 : len(v)-1]
		}
		if strings.HasPrefix(v, "'") && strings.HasSuffix(v, "'") {
			return v[1 : len(v)-1]
		}
	}
	return v
}

// ApplyEnv overlays deployment-level environment overrides.
func (c *Config) ApplyEnv() {
	if port := os.Getenv("CHARLA_PORT"); port != "" {
		if n, err := strconv.Atoi(port); err == nil && n > 0 {
			c.Server.Port = n
		}
	}
	if level := os.Getenv("CHARLA_LOG_LEVEL"); level != "" {
		c.Server.LogLevel = level
	}
	if url := os.Getenv("CHARLA_TOOLS_URL"); url != "" {
		c.Tools.URL = url
	}
	if provider := os.Getenv("CHARLA_MODEL_PROVIDER"); provider != "" {
		c.Model.Provider = provider
	}
}

// APIKey resolves the provider's API key from the environment.
// GEMINI_TOKEN is honored as a legacy alias for GEMINI_API_KEY.
func APIKey(provider string) string {
	switch provider {
	case "", "gemini":
		if key := os.Getenv("GEMINI_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("GEMINI_TOKEN")
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	case "anthropic":
		return os.Getenv("ANTHROPIC_API_KEY")
	}
	return ""
}
