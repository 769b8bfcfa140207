// Package interfaces defines the core contracts shared across charla.
// The session store, orchestration loop, model providers and the tool
// gateway all speak these types, keeping every subsystem swappable.
package interfaces

import "time"

// Role identifies who produced a turn.
type Role string

const (
	// RoleUser is a caller-submitted message.
	RoleUser Role = "user"
	// RoleModel is a model response: final text or requested tool calls.
	RoleModel Role = "model"
	// RoleTool is the recorded outcome of one tool invocation.
	RoleTool Role = "tool"
)

// Turn is one atomic entry in a session's history. Exactly one of Text,
// Calls or Result is populated, according to Role: user turns carry Text,
// model turns carry Text (final answer) or Calls (requested invocations),
// tool turns carry Result.
type Turn struct {
	Role      Role        `json:"role"`
	Text      string      `json:"text,omitempty"`
	Calls     []ToolCall  `json:"calls,omitempty"`
	Result    *ToolResult `json:"result,omitempty"`
	CreatedAt time.Time   `json:"created_at"`
}

// UserTurn builds a user turn with the given text.
func UserTurn(text string) Turn {
	return Turn{Role: RoleUser, Text: text, CreatedAt: time.Now()}
}

// ModelTextTurn builds a model turn carrying a final answer.
func ModelTextTurn(text string) Turn {
	return Turn{Role: RoleModel, Text: text, CreatedAt: time.Now()}
}

// ModelCallTurn builds a model turn recording requested tool invocations.
func ModelCallTurn(calls ...ToolCall) Turn {
	return Turn{Role: RoleModel, Calls: calls, CreatedAt: time.Now()}
}

// ToolTurn builds a tool-result turn.
func ToolTurn(result ToolResult) Turn {
	return Turn{Role: RoleTool, Result: &result, CreatedAt: time.Now()}
}

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

// ToolResult is the recorded outcome of one tool invocation. Content holds
// the result text on success, or the failure detail when IsError is set;
// either way it is fed back to the model verbatim. ID matches the
// requesting ToolCall's ID when the provider assigns one.
type ToolResult struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Content   string         `json:"content"`
	IsError   bool           `json:"is_error,omitempty"`
}

// ToolDescriptor is a tool as discovered from the tool provider. InputSchema
// is the provider's JSON-Schema object as deserialized by the MCP SDK
// (a map with "type", "properties" and "required" keys).
type ToolDescriptor struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"input_schema"`
}

// ToolSchema is the adapted, provider-neutral tool declaration presented to
// the model. Parameters is a JSON-Schema object; providers project it into
// their own wire shape.
type ToolSchema struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is the input to a model provider. History is the session's
// full turn sequence replayed in insertion order.
type ChatRequest struct {
	Model        string       `json:"model"`
	SystemPrompt string       `json:"system_prompt,omitempty"`
	History      []Turn       `json:"history"`
	MaxTokens    int          `json:"max_tokens,omitempty"`
	Temperature  float64      `json:"temperature,omitempty"`
	Tools        []ToolSchema `json:"tools,omitempty"`
}

// ChatResponse is the output from a model provider. A response with any
// ToolCalls is never a final answer; Text accompanying tool calls is
// transitional and not returned to callers.
type ChatResponse struct {
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	Model        string     `json:"model"`
	TokensIn     int        `json:"tokens_in"`
	TokensOut    int        `json:"tokens_out"`
	FinishReason string     `json:"finish_reason,omitempty"`
}
