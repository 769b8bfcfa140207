package models

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"google.golang.org/genai"

	"github.com/charla-ai/charla/internal/interfaces"
)

const defaultGeminiModel = "gemini-2.5-flash"

// Gemini talks to the Gemini API through the official SDK.
type Gemini struct {
	client *genai.Client
	model  string
	logger *slog.Logger
}

// NewGemini creates the provider. The API key is required; the model
// falls back to gemini-2.5-flash.
func NewGemini(ctx context.Context, cfg Config, logger *slog.Logger) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini provider requires an api key")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	return &Gemini{
		client: client,
		model:  model,
		logger: logger.With("component", "gemini"),
	}, nil
}

func (g *Gemini) Name() string { return "gemini" }

// Chat replays the turn history as structured contents and returns the
// model's text or requested tool calls.
func (g *Gemini) Chat(ctx context.Context, req interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	contents, err := historyToContents(req.History)
	if err != nil {
		return nil, err
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("chat request has no turns")
	}

	cfg := &genai.GenerateContentConfig{}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.Temperature > 0 {
		temp := float32(req.Temperature)
		cfg.Temperature = &temp
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if len(req.Tools) > 0 {
		declarations, err := declarationsFor(req.Tools)
		if err != nil {
			return nil, err
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: declarations}}
	}

	model := req.Model
	if model == "" {
		model = g.model
	}

	res, err := g.client.Models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("gemini generate content: %w", err)
	}
	return responseFrom(res, model), nil
}

// HealthCheck probes connectivity and credentials with a token count,
// which is free of generation cost.
func (g *Gemini) HealthCheck(ctx context.Context) error {
	contents := []*genai.Content{genai.NewContentFromText("ping", genai.RoleUser)}
	if _, err := g.client.Models.CountTokens(ctx, g.model, contents, nil); err != nil {
		return fmt.Errorf("gemini health check: %w", err)
	}
	return nil
}

// historyToContents projects turns into Gemini contents. Consecutive
// tool-result turns collapse into a single user content whose
// FunctionResponse parts answer the preceding model turn's calls.
func historyToContents(history []interfaces.Turn) ([]*genai.Content, error) {
	var contents []*genai.Content
	var pendingResponses []*genai.Part

	flushResponses := func() {
		if len(pendingResponses) > 0 {
			contents = append(contents, genai.NewContentFromParts(pendingResponses, genai.RoleUser))
			pendingResponses = nil
		}
	}

	for i, turn := range history {
		if turn.Role != interfaces.RoleTool {
			flushResponses()
		}
		switch turn.Role {
		case interfaces.RoleUser:
			contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleUser))
		case interfaces.RoleModel:
			if len(turn.Calls) > 0 {
				parts := make([]*genai.Part, 0, len(turn.Calls))
				for _, call := range turn.Calls {
					part := genai.NewPartFromFunctionCall(call.Name, call.Arguments)
					if call.ID != "" {
						part.FunctionCall.ID = call.ID
					}
					parts = append(parts, part)
				}
				contents = append(contents, genai.NewContentFromParts(parts, genai.RoleModel))
			} else {
				contents = append(contents, genai.NewContentFromText(turn.Text, genai.RoleModel))
			}
		case interfaces.RoleTool:
			if turn.Result == nil {
				return nil, fmt.Errorf("turn %d: tool turn without result", i)
			}
			response := map[string]any{"output": turn.Result.Content}
			if turn.Result.IsError {
				response = map[string]any{"error": turn.Result.Content}
			}
			part := genai.NewPartFromFunctionResponse(turn.Result.Name, response)
			if turn.Result.ID != "" {
				part.FunctionResponse.ID = turn.Result.ID
			}
			pendingResponses = append(pendingResponses, part)
		default:
			return nil, fmt.Errorf("turn %d: unknown role %q", i, turn.Role)
		}
	}
	flushResponses()
	return contents, nil
}

// declarationsFor converts adapted tool schemas into Gemini function
// declarations.
func declarationsFor(tools []interfaces.ToolSchema) ([]*genai.FunctionDeclaration, error) {
	declarations := make([]*genai.FunctionDeclaration, 0, len(tools))
	for _, tool := range tools {
		params, err := schemaFromMap(tool.Name, tool.Parameters)
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, &genai.FunctionDeclaration{
			Name:        tool.Name,
			Description: tool.Description,
			Parameters:  params,
		})
	}
	return declarations, nil
}

// schemaFromMap converts a JSON-Schema map into the SDK's typed schema.
// Enum values are presented as string literals, which is the only enum
// shape the API accepts.
func schemaFromMap(tool string, node map[string]any) (*genai.Schema, error) {
	if node == nil {
		return nil, nil
	}

	schema := &genai.Schema{}
	if desc, ok := node["description"].(string); ok {
		schema.Description = desc
	}

	if raw, ok := node["enum"]; ok {
		values, ok := raw.([]any)
		if !ok {
			return nil, fmt.Errorf("tool %s: enum must be a list", tool)
		}
		schema.Type = genai.TypeString
		for _, v := range values {
			schema.Enum = append(schema.Enum, fmt.Sprint(v))
		}
		return schema, nil
	}

	typ, _ := node["type"].(string)
	switch typ {
	case "string":
		schema.Type = genai.TypeString
	case "integer":
		schema.Type = genai.TypeInteger
	case "number":
		schema.Type = genai.TypeNumber
	case "boolean":
		schema.Type = genai.TypeBoolean
	case "array":
		schema.Type = genai.TypeArray
		items, ok := node["items"].(map[string]any)
		if !ok {
			return nil, fmt.Errorf("tool %s: array schema without items", tool)
		}
		itemSchema, err := schemaFromMap(tool, items)
		if err != nil {
			return nil, err
		}
		schema.Items = itemSchema
	case "object":
		schema.Type = genai.TypeObject
		if props, ok := node["properties"].(map[string]any); ok {
			schema.Properties = make(map[string]*genai.Schema, len(props))
			for name, raw := range props {
				child, ok := raw.(map[string]any)
				if !ok {
					return nil, fmt.Errorf("tool %s: property %s is not a schema", tool, name)
				}
				childSchema, err := schemaFromMap(tool, child)
				if err != nil {
					return nil, err
				}
				schema.Properties[name] = childSchema
			}
		}
		schema.Required = stringList(node["required"])
	default:
		return nil, fmt.Errorf("tool %s: unsupported schema type %q", tool, typ)
	}
	return schema, nil
}

func stringList(raw any) []string {
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// responseFrom walks the first candidate's parts, collecting text and
// function calls.
func responseFrom(res *genai.GenerateContentResponse, model string) *interfaces.ChatResponse {
	out := &interfaces.ChatResponse{Model: model}
	if res == nil {
		return out
	}

	if len(res.Candidates) > 0 && res.Candidates[0].Content != nil {
		var texts []string
		for _, part := range res.Candidates[0].Content.Parts {
			if part == nil {
				continue
			}
			if part.Text != "" {
				texts = append(texts, part.Text)
			}
			if part.FunctionCall != nil {
				out.ToolCalls = append(out.ToolCalls, interfaces.ToolCall{
					ID:        part.FunctionCall.ID,
					Name:      part.FunctionCall.Name,
					Arguments: part.FunctionCall.Args,
				})
			}
		}
		out.Text = strings.Join(texts, "\n")
		out.FinishReason = string(res.Candidates[0].FinishReason)
	}

	if res.UsageMetadata != nil {
		out.TokensIn = int(res.UsageMetadata.PromptTokenCount)
		out.TokensOut = int(res.UsageMetadata.CandidatesTokenCount)
	}
	return out
}
