package persona

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/charla-ai/charla/internal/interfaces"
)

// Policy controls which discovered tools reach the model and how they
// are presented and bounded.
type Policy struct {
	Allow     []string   `toml:"allow"`
	Deny      []string   `toml:"deny"`
	Overrides []Override `toml:"override"`
}

// Override adjusts one tool's description or call timeout.
type Override struct {
	Name        string `toml:"name"`
	TimeoutMs   int    `toml:"timeout_ms"`
	Description string `toml:"description"`
}

// LoadPolicy parses a TOML policy file.
func LoadPolicy(path string) (*Policy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool policy: %w", err)
	}
	var p Policy
	if err := toml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse tool policy: %w", err)
	}
	return &p, nil
}

// Apply filters and rewrites descriptors, preserving input order. Deny
// wins over allow; an empty allow list admits everything not denied.
// A nil policy passes descriptors through untouched.
func (p *Policy) Apply(descriptors []interfaces.ToolDescriptor) []interfaces.ToolDescriptor {
	if p == nil {
		return descriptors
	}

	denied := toSet(p.Deny)
	allowed := toSet(p.Allow)
	overrides := make(map[string]Override, len(p.Overrides))
	for _, o := range p.Overrides {
		overrides[o.Name] = o
	}

	out := make([]interfaces.ToolDescriptor, 0, len(descriptors))
	for _, d := range descriptors {
		if denied[d.Name] {
			continue
		}
		if len(allowed) > 0 && !allowed[d.Name] {
			continue
		}
		if o, ok := overrides[d.Name]; ok && o.Description != "" {
			d.Description = o.Description
		}
		out = append(out, d)
	}
	return out
}

// Timeouts returns the per-tool call timeouts for the gateway.
func (p *Policy) Timeouts() map[string]time.Duration {
	if p == nil {
		return nil
	}
	out := make(map[string]time.Duration)
	for _, o := range p.Overrides {
		if o.TimeoutMs > 0 {
			out[o.Name] = time.Duration(o.TimeoutMs) * time.Millisecond
		}
	}
	return out
}

func toSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		set[n] = true
	}
	return set
}
