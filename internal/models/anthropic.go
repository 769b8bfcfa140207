package models

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/charla-ai/charla/internal/interfaces"
)

const defaultAnthropicModel = "claude-sonnet-4-20250514"

// Anthropic implements the provider contract for the Anthropic messages
// API. Tool calls ride in tool_use content blocks; results go back as
// tool_result blocks on a user message.
type Anthropic struct {
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
	client  *http.Client
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	Tools       []anthropicTool    `json:"tools,omitempty"`
	Temperature float64            `json:"temperature,omitempty"`
}

type anthropicMessage struct {
	Role    string           `json:"role"`
	Content []anthropicBlock `json:"content"`
}

// anthropicBlock is one content block; Type selects which fields apply.
type anthropicBlock struct {
	Type string `json:"type"`

	// text
	Text string `json:"text,omitempty"`

	// tool_use
	ID    string          `json:"id,omitempty"`
	Name  string          `json:"name,omitempty"`
	Input json.RawMessage `json:"input,omitempty"`

	// tool_result
	ToolUseID string `json:"tool_use_id,omitempty"`
	Content   string `json:"content,omitempty"`
	IsError   bool   `json:"is_error,omitempty"`
}

type anthropicTool struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	InputSchema map[string]any `json:"input_schema"`
}

type anthropicResponse struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	Role       string           `json:"role"`
	Content    []anthropicBlock `json:"content"`
	Model      string           `json:"model"`
	StopReason string           `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// NewAnthropic creates an Anthropic provider.
func NewAnthropic(cfg Config, logger *slog.Logger) *Anthropic {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	model := cfg.Model
	if model == "" {
		model = defaultAnthropicModel
	}
	return &Anthropic{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		logger:  logger.With("component", "anthropic"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *Anthropic) Name() string { return "anthropic" }

func (p *Anthropic) Chat(ctx context.Context, req interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	msgs, err := anthropicMessagesFrom(req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	// The messages API requires max_tokens
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 4096
	}

	body := anthropicRequest{
		Model:       model,
		MaxTokens:   maxTokens,
		System:      req.SystemPrompt,
		Messages:    msgs,
		Temperature: req.Temperature,
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, anthropicTool{
			Name:        tool.Name,
			Description: tool.Description,
			InputSchema: tool.Parameters,
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/v1/messages", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != 200 {
		var apiErr anthropicError
		json.Unmarshal(respBody, &apiErr)
		return nil, fmt.Errorf("API error %d: %s (%s)",
			resp.StatusCode, apiErr.Error.Message, apiErr.Error.Type)
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	out := &interfaces.ChatResponse{
		Model:        apiResp.Model,
		TokensIn:     apiResp.Usage.InputTokens,
		TokensOut:    apiResp.Usage.OutputTokens,
		FinishReason: apiResp.StopReason,
	}
	for _, block := range apiResp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args := map[string]any{}
			if len(block.Input) > 0 {
				if err := json.Unmarshal(block.Input, &args); err != nil {
					return nil, fmt.Errorf("tool call %s: invalid input: %w", block.Name, err)
				}
			}
			out.ToolCalls = append(out.ToolCalls, interfaces.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

// HealthCheck lists models on the endpoint to verify reachability and
// credentials without spending completion tokens.
func (p *Anthropic) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("anthropic health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("anthropic health check: status %d", resp.StatusCode)
	}
	return nil
}

// anthropicMessagesFrom projects the turn history into messages. Tool
// results must carry the requesting tool_use block's id; when the history
// has none (a different provider produced those turns), ids are
// synthesized in request order. Tool results directly follow the turn
// that requested them, so positional matching is exact.
func anthropicMessagesFrom(req interfaces.ChatRequest) ([]anthropicMessage, error) {
	msgs := make([]anthropicMessage, 0, len(req.History))

	var pendingIDs []string
	for i, turn := range req.History {
		switch turn.Role {
		case interfaces.RoleUser:
			msgs = append(msgs, anthropicMessage{
				Role:    "user",
				Content: []anthropicBlock{{Type: "text", Text: turn.Text}},
			})
		case interfaces.RoleModel:
			if len(turn.Calls) == 0 {
				msgs = append(msgs, anthropicMessage{
					Role:    "assistant",
					Content: []anthropicBlock{{Type: "text", Text: turn.Text}},
				})
				continue
			}
			blocks := make([]anthropicBlock, 0, len(turn.Calls)+1)
			if turn.Text != "" {
				blocks = append(blocks, anthropicBlock{Type: "text", Text: turn.Text})
			}
			pendingIDs = pendingIDs[:0]
			for j, call := range turn.Calls {
				id := call.ID
				if id == "" {
					id = fmt.Sprintf("toolu_%d_%d", i, j)
				}
				pendingIDs = append(pendingIDs, id)

				input := json.RawMessage("{}")
				if len(call.Arguments) > 0 {
					data, err := json.Marshal(call.Arguments)
					if err != nil {
						return nil, fmt.Errorf("turn %d: marshal input for %s: %w", i, call.Name, err)
					}
					input = data
				}
				blocks = append(blocks, anthropicBlock{
					Type:  "tool_use",
					ID:    id,
					Name:  call.Name,
					Input: input,
				})
			}
			msgs = append(msgs, anthropicMessage{Role: "assistant", Content: blocks})
		case interfaces.RoleTool:
			if turn.Result == nil {
				return nil, fmt.Errorf("turn %d: tool turn without result", i)
			}
			id := turn.Result.ID
			if id == "" && len(pendingIDs) > 0 {
				id = pendingIDs[0]
				pendingIDs = pendingIDs[1:]
			}
			msgs = append(msgs, anthropicMessage{
				Role: "user",
				Content: []anthropicBlock{{
					Type:      "tool_result",
					ToolUseID: id,
					Content:   turn.Result.Content,
					IsError:   turn.Result.IsError,
				}},
			})
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
	}
	return msgs, nil
}
