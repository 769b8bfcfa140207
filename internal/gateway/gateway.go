// Package gateway maintains the process's single MCP connection to the
// tool provider. It caches the discovered tool list, enforces per-call
// timeouts and classifies every failure so the conversation loop can
// feed it back to the model in-band.
package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/charla-ai/charla/internal/interfaces"
)

// Transport kinds accepted in config.
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
	TransportSSE   = "sse"
)

const defaultCallTimeout = 30 * time.Second

// Config describes how to reach the tool provider.
type Config struct {
	Transport string            `json:"transport"`
	Command   string            `json:"command,omitempty"`
	Args      []string          `json:"args,omitempty"`
	Env       map[string]string `json:"env,omitempty"`
	URL       string            `json:"url,omitempty"`
	// CallTimeout bounds a single Invoke including any reconnect retry.
	CallTimeout time.Duration `json:"-"`
}

// rpcSession is the slice of *mcp.ClientSession the gateway depends on.
type rpcSession interface {
	ListTools(ctx context.Context, params *mcp.ListToolsParams) (*mcp.ListToolsResult, error)
	CallTool(ctx context.Context, params *mcp.CallToolParams) (*mcp.CallToolResult, error)
	Close() error
}

// Gateway implements interfaces.ToolGateway over a single MCP server.
// Connection is lazy: the first Discover or Invoke dials. Safe for
// concurrent use.
type Gateway struct {
	cfg      Config
	logger   *slog.Logger
	dial     func(ctx context.Context) (rpcSession, error)
	timeouts map[string]time.Duration

	mu      sync.Mutex
	session rpcSession
	tools   []interfaces.ToolDescriptor
	known   map[string]bool
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger scopes gateway logs onto the given logger.
func WithLogger(logger *slog.Logger) Option {
	return func(g *Gateway) { g.logger = logger.With("component", "gateway") }
}

// WithToolTimeouts overrides the call timeout for individual tools,
// typically from the persona tool policy.
func WithToolTimeouts(timeouts map[string]time.Duration) Option {
	return func(g *Gateway) {
		for name, d := range timeouts {
			g.timeouts[name] = d
		}
	}
}

// New validates the transport config and returns an unconnected Gateway.
func New(cfg Config, opts ...Option) (*Gateway, error) {
	switch cfg.Transport {
	case TransportStdio:
		if cfg.Command == "" {
			return nil, fmt.Errorf("stdio transport requires a command")
		}
	case TransportHTTP, TransportSSE:
		if cfg.URL == "" {
			return nil, fmt.Errorf("%s transport requires a url", cfg.Transport)
		}
	default:
		return nil, fmt.Errorf("unknown tool transport %q", cfg.Transport)
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}

	g := &Gateway{
		cfg:      cfg,
		logger:   slog.Default().With("component", "gateway"),
		timeouts: make(map[string]time.Duration),
	}
	g.dial = g.dialMCP
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Discover returns the provider's tool descriptors, connecting and
// listing on first use. Later calls serve the cache until Refresh.
func (g *Gateway) Discover(ctx context.Context) ([]interfaces.ToolDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.tools != nil {
		return snapshotDescriptors(g.tools), nil
	}
	return g.refreshLocked(ctx)
}

// Refresh forces a new tool listing and replaces the cache. It is only
// ever called explicitly; reconnects never change the cached set.
func (g *Gateway) Refresh(ctx context.Context) ([]interfaces.ToolDescriptor, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.refreshLocked(ctx)
}

// Invoke executes one tool call. Unknown names fail against the cache
// without touching the network. A dead connection is redialed exactly
// once; the per-call timeout covers the retry.
func (g *Gateway) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	g.mu.Lock()
	if g.tools == nil {
		if _, err := g.refreshLocked(ctx); err != nil {
			g.mu.Unlock()
			return "", err
		}
	}
	if !g.known[name] {
		g.mu.Unlock()
		return "", &ToolError{Kind: KindUnknownTool, Tool: name}
	}
	timeout := g.cfg.CallTimeout
	if d, ok := g.timeouts[name]; ok {
		timeout = d
	}
	session := g.session
	g.mu.Unlock()

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	params := &mcp.CallToolParams{Name: name, Arguments: args}
	result, err := session.CallTool(callCtx, params)
	if err != nil {
		if timedOut(callCtx, err) {
			return "", &ToolError{Kind: KindTimeout, Tool: name, Detail: timeout.String(), Err: err}
		}
		g.logger.Warn("tool call failed, reconnecting", "tool", name, "error", err)

		g.mu.Lock()
		g.dropLocked()
		reconnErr := g.connectLocked(callCtx)
		session = g.session
		g.mu.Unlock()
		if reconnErr != nil {
			return "", &ToolError{Kind: KindUnavailable, Tool: name,
				Detail: fmt.Sprintf("reconnect failed: %v", reconnErr), Err: err}
		}

		result, err = session.CallTool(callCtx, params)
		if err != nil {
			if timedOut(callCtx, err) {
				return "", &ToolError{Kind: KindTimeout, Tool: name, Detail: timeout.String(), Err: err}
			}
			return "", &ToolError{Kind: KindUnavailable, Tool: name, Detail: err.Error(), Err: err}
		}
	}

	content := extractContent(result)
	if result.IsError {
		return "", &ToolError{Kind: KindRemote, Tool: name, Detail: content}
	}
	return content, nil
}

// Close shuts the connection down. The gateway is unusable afterwards.
func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.dropLocked()
	return nil
}

// refreshLocked connects if needed, lists tools and rebuilds the cache.
// Caller holds g.mu.
func (g *Gateway) refreshLocked(ctx context.Context) ([]interfaces.ToolDescriptor, error) {
	if err := g.connectLocked(ctx); err != nil {
		return nil, &ToolError{Kind: KindUnavailable, Detail: err.Error(), Err: err}
	}

	result, err := g.session.ListTools(ctx, nil)
	if err != nil {
		// Drop the session so the next caller redials.
		g.dropLocked()
		return nil, &ToolError{Kind: KindUnavailable, Detail: fmt.Sprintf("list tools: %v", err), Err: err}
	}

	tools := make([]interfaces.ToolDescriptor, 0, len(result.Tools))
	known := make(map[string]bool, len(result.Tools))
	for _, t := range result.Tools {
		tools = append(tools, descriptorFromTool(t))
		known[t.Name] = true
	}
	g.tools = tools
	g.known = known
	g.logger.Info("tool list cached", "count", len(tools))
	return snapshotDescriptors(tools), nil
}

// connectLocked dials if no session exists. Caller holds g.mu.
func (g *Gateway) connectLocked(ctx context.Context) error {
	if g.session != nil {
		return nil
	}
	session, err := g.dial(ctx)
	if err != nil {
		return err
	}
	g.session = session
	return nil
}

// dropLocked closes and forgets the session. Caller holds g.mu.
func (g *Gateway) dropLocked() {
	if g.session != nil {
		_ = g.session.Close()
		g.session = nil
	}
}

// dialMCP builds the configured transport and connects a fresh client.
// A client's Connect is one-shot, so every dial creates a new one.
func (g *Gateway) dialMCP(ctx context.Context) (rpcSession, error) {
	client := mcp.NewClient(&mcp.Implementation{Name: "charla", Version: "0.1.0"}, nil)

	var transport mcp.Transport
	switch g.cfg.Transport {
	case TransportStdio:
		cmd := exec.Command(g.cfg.Command, g.cfg.Args...)
		if len(g.cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range g.cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcp.CommandTransport{Command: cmd}
	case TransportHTTP:
		transport = &mcp.StreamableClientTransport{Endpoint: g.cfg.URL}
	case TransportSSE:
		transport = &mcp.SSEClientTransport{Endpoint: g.cfg.URL}
	default:
		return nil, fmt.Errorf("unknown tool transport %q", g.cfg.Transport)
	}

	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", g.cfg.Transport, err)
	}
	g.logger.Info("connected to tool provider", "transport", g.cfg.Transport)
	return session, nil
}

func timedOut(ctx context.Context, err error) bool {
	return errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded)
}

// descriptorFromTool converts an SDK tool. The SDK deserializes the
// input schema to a map[string]any on the client side.
func descriptorFromTool(t *mcp.Tool) interfaces.ToolDescriptor {
	d := interfaces.ToolDescriptor{Name: t.Name, Description: t.Description}
	if m, ok := t.InputSchema.(map[string]any); ok {
		d.InputSchema = m
	}
	return d
}

func snapshotDescriptors(tools []interfaces.ToolDescriptor) []interfaces.ToolDescriptor {
	out := make([]interfaces.ToolDescriptor, len(tools))
	for i, t := range tools {
		out[i] = t.Clone()
	}
	return out
}

// extractContent joins the text content of a call result. Results with
// only structured content pass through as JSON text.
func extractContent(result *mcp.CallToolResult) string {
	if result == nil {
		return ""
	}
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcp.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	if len(parts) == 0 && result.StructuredContent != nil {
		if raw, err := json.Marshal(result.StructuredContent); err == nil {
			return string(raw)
		}
	}
	return strings.Join(parts, "\n")
}
