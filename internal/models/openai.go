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

const defaultOpenAIModel = "gpt-4o-mini"

// OpenAI implements the provider contract for OpenAI-compatible APIs.
// This works with OpenAI, OpenRouter, Together, and any compatible endpoint.
type OpenAI struct {
	baseURL string
	apiKey  string
	model   string
	logger  *slog.Logger
	client  *http.Client
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
	Tools       []openAITool    `json:"tools,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role       string           `json:"role"`
	Content    string           `json:"content,omitempty"`
	ToolCalls  []openAIToolCall `json:"tool_calls,omitempty"`
	ToolCallID string           `json:"tool_call_id,omitempty"`
}

type openAIToolCall struct {
	ID       string         `json:"id"`
	Type     string         `json:"type"`
	Function openAIFunction `json:"function"`
}

type openAIFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type openAITool struct {
	Type     string           `json:"type"`
	Function openAIDefinition `json:"function"`
}

type openAIDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	Model   string `json:"model"`
	Choices []struct {
		Index        int           `json:"index"`
		Message      openAIMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

type openAIError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAI creates an OpenAI-compatible provider.
func NewOpenAI(cfg Config, logger *slog.Logger) *OpenAI {
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := cfg.Model
	if model == "" {
		model = defaultOpenAIModel
	}
	return &OpenAI{
		baseURL: baseURL,
		apiKey:  cfg.APIKey,
		model:   model,
		logger:  logger.With("component", "openai"),
		client: &http.Client{
			Timeout: 120 * time.Second,
		},
	}
}

func (p *OpenAI) Name() string { return "openai" }

func (p *OpenAI) Chat(ctx context.Context, req interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	msgs, err := openAIMessagesFrom(req)
	if err != nil {
		return nil, err
	}

	model := req.Model
	if model == "" {
		model = p.model
	}

	body := openAIRequest{
		Model:       model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
		Stream:      false,
	}
	for _, tool := range req.Tools {
		body.Tools = append(body.Tools, openAITool{
			Type: "function",
			Function: openAIDefinition{
				Name:        tool.Name,
				Description: tool.Description,
				Parameters:  tool.Parameters,
			},
		})
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", p.baseURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

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
		var apiErr openAIError
		json.Unmarshal(respBody, &apiErr)
		return nil, fmt.Errorf("API error %d: %s (%s)",
			resp.StatusCode, apiErr.Error.Message, apiErr.Error.Type)
	}

	var apiResp openAIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}

	if len(apiResp.Choices) == 0 {
		return nil, fmt.Errorf("no choices in response")
	}

	choice := apiResp.Choices[0]
	out := &interfaces.ChatResponse{
		Text:         choice.Message.Content,
		Model:        apiResp.Model,
		TokensIn:     apiResp.Usage.PromptTokens,
		TokensOut:    apiResp.Usage.CompletionTokens,
		FinishReason: choice.FinishReason,
	}
	for _, call := range choice.Message.ToolCalls {
		args := map[string]any{}
		if call.Function.Arguments != "" {
			if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("tool call %s: invalid arguments: %w", call.Function.Name, err)
			}
		}
		out.ToolCalls = append(out.ToolCalls, interfaces.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: args,
		})
	}
	return out, nil
}

// HealthCheck lists models on the endpoint to verify reachability and
// credentials without spending completion tokens.
func (p *OpenAI) HealthCheck(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", p.baseURL+"/models", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("openai health check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		return fmt.Errorf("openai health check: status %d", resp.StatusCode)
	}
	return nil
}

// openAIMessagesFrom projects the turn history into chat messages.
// Tool-result messages must carry the requesting call's id; when the
// history has none (a different provider produced those turns), ids are
// synthesized in request order. Tool results directly follow the turn
// that requested them, so positional matching is exact.
func openAIMessagesFrom(req interfaces.ChatRequest) ([]openAIMessage, error) {
	msgs := make([]openAIMessage, 0, len(req.History)+1)
	if req.SystemPrompt != "" {
		msgs = append(msgs, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}

	var pendingIDs []string
	for i, turn := range req.History {
		switch turn.Role {
		case interfaces.RoleUser:
			msgs = append(msgs, openAIMessage{Role: "user", Content: turn.Text})
		case interfaces.RoleModel:
			if len(turn.Calls) == 0 {
				msgs = append(msgs, openAIMessage{Role: "assistant", Content: turn.Text})
				continue
			}
			calls := make([]openAIToolCall, 0, len(turn.Calls))
			pendingIDs = pendingIDs[:0]
			for j, call := range turn.Calls {
				id := call.ID
				if id == "" {
					id = fmt.Sprintf("call_%d_%d", i, j)
				}
				pendingIDs = append(pendingIDs, id)

				args := []byte("{}")
				if len(call.Arguments) > 0 {
					var err error
					if args, err = json.Marshal(call.Arguments); err != nil {
						return nil, fmt.Errorf("turn %d: marshal arguments for %s: %w", i, call.Name, err)
					}
				}
				calls = append(calls, openAIToolCall{
					ID:       id,
					Type:     "function",
					Function: openAIFunction{Name: call.Name, Arguments: string(args)},
				})
			}
			msgs = append(msgs, openAIMessage{Role: "assistant", ToolCalls: calls})
		case interfaces.RoleTool:
			if turn.Result == nil {
				return nil, fmt.Errorf("turn %d: tool turn without result", i)
			}
			id := turn.Result.ID
			if id == "" && len(pendingIDs) > 0 {
				id = pendingIDs[0]
				pendingIDs = pendingIDs[1:]
			}
			msgs = append(msgs, openAIMessage{Role: "tool", ToolCallID: id, Content: turn.Result.Content})
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
	}
	return msgs, nil
}
