package tui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/charla-ai/charla/internal/interfaces"
)

const (
	requestTimeout = 10 * time.Second
	// Queries ride through model calls and artificially slow tools.
	queryTimeout = 5 * time.Minute
)

// Client is a thin typed client for the charla HTTP API.
type Client struct {
	base string
	http *http.Client
}

// NewClient creates a client for the API at base, e.g. http://localhost:8400.
func NewClient(base string) *Client {
	return &Client{
		base: strings.TrimRight(base, "/"),
		http: &http.Client{},
	}
}

// Health mirrors the /health payload.
type Health struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Provider string `json:"provider"`
	Tools    int    `json:"tools"`
	Sessions int    `json:"sessions"`
	Uptime   string `json:"uptime"`
}

// Tool mirrors one entry of the /tools payload.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// QueryResult mirrors the /session/{id}/query payload.
type QueryResult struct {
	SessionID string `json:"session_id"`
	Answer    string `json:"answer"`
	Outcome   string `json:"outcome"`
	Metrics   struct {
		Iterations int `json:"iterations"`
		ModelCalls int `json:"model_calls"`
		ToolCalls  int `json:"tool_calls"`
	} `json:"metrics"`
}

// Health fetches the daemon's health summary.
func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	if err := c.get(ctx, "/health", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// NewSession creates a session and returns its id.
func (c *Client) NewSession(ctx context.Context) (string, error) {
	var out struct {
		SessionID string `json:"session_id"`
	}
	if err := c.post(ctx, "/session/new", nil, &out); err != nil {
		return "", err
	}
	return out.SessionID, nil
}

// DeleteSession removes a session. Deleting twice is not an error.
func (c *Client) DeleteSession(ctx context.Context, id string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.base+"/session/"+id, nil)
	if err != nil {
		return err
	}
	return c.do(req, nil)
}

// Query runs one query in the session and returns the answer.
func (c *Client) Query(ctx context.Context, id, query string) (*QueryResult, error) {
	var out QueryResult
	if err := c.post(ctx, "/session/"+id+"/query", map[string]string{"query": query}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Tools lists the declarations the daemon presents to the model.
func (c *Client) Tools(ctx context.Context) ([]Tool, error) {
	var out struct {
		Tools []Tool `json:"tools"`
	}
	if err := c.get(ctx, "/tools", &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

func (c *Client) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	var buf io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		buf = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.base+path, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return apiError(resp)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// apiError extracts the {"error": ...} body the daemon sends on failure.
func apiError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var payload struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &payload) == nil && payload.Error != "" {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, payload.Error)
	}
	return fmt.Errorf("HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
}

// Stream is a live subscription to one session's turn events.
type Stream struct {
	Events <-chan interfaces.TurnEvent
	cancel context.CancelFunc
}

// Close tears the subscription down.
func (s *Stream) Close() { s.cancel() }

// Stream subscribes to the session's event feed over WebSocket. Events
// arrive on the returned channel until Close is called or the daemon
// hangs up; either way the channel is closed.
func (c *Client) Stream(ctx context.Context, sessionID string) (*Stream, error) {
	ctx, cancel := context.WithCancel(ctx)

	dialCtx, dialCancel := context.WithTimeout(ctx, requestTimeout)
	defer dialCancel()
	conn, _, err := websocket.Dial(dialCtx, c.base+"/ws/session/"+sessionID, nil)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("dial event stream: %w", err)
	}

	events := make(chan interfaces.TurnEvent, 32)
	go func() {
		defer close(events)
		defer conn.Close(websocket.StatusNormalClosure, "client closed")
		for {
			var ev interfaces.TurnEvent
			if err := wsjson.Read(ctx, conn, &ev); err != nil {
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				return
			}
		}
	}()

	return &Stream{Events: events, cancel: cancel}, nil
}
