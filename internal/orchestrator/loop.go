// Package orchestrator drives a session query through bounded
// model/tool iterations to a final answer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/charla-ai/charla/internal/interfaces"
	"github.com/charla-ai/charla/internal/persona"
	"github.com/charla-ai/charla/internal/schema"
	"github.com/charla-ai/charla/internal/session"
)

// ErrModelUnavailable reports a model-provider call failure. Every turn
// committed before the failed call stays in the session history, so the
// caller can safely retry the same query.
var ErrModelUnavailable = errors.New("model unavailable")

const (
	defaultMaxIterations = 5
	defaultMaxTokens     = 4096
)

// Outcome is the terminal state of a query.
type Outcome string

const (
	// OutcomeDone means the model produced a final text answer.
	OutcomeDone Outcome = "done"
	// OutcomeLoopExceeded means the iteration bound cut the loop short;
	// the answer is a best-effort summary of the last tool results.
	OutcomeLoopExceeded Outcome = "loop_exceeded"
)

// Result is the outcome of one query.
type Result struct {
	SessionID string            `json:"session_id"`
	Answer    string            `json:"answer"`
	Outcome   Outcome           `json:"outcome"`
	NewTurns  []interfaces.Turn `json:"turns"`
	Metrics   Metrics           `json:"metrics"`
}

// Metrics tracks per-query loop performance.
type Metrics struct {
	Iterations int           `json:"iterations"`
	ModelCalls int           `json:"model_calls"`
	ToolCalls  int           `json:"tool_calls"`
	ToolErrors int           `json:"tool_errors"`
	Duration   time.Duration `json:"duration"`
}

// Option is a functional option for configuring a Loop.
type Option func(*Loop)

// WithMaxIterations bounds the number of model calls per query.
func WithMaxIterations(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxIterations = n
		}
	}
}

// WithParallelTools executes a model turn's tool calls with up to n
// in flight at once. Results are still committed in request order.
func WithParallelTools(n int) Option {
	return func(l *Loop) {
		if n > 1 {
			l.maxParallel = n
		}
	}
}

// WithMaxTokens caps the model's output tokens per call.
func WithMaxTokens(n int) Option {
	return func(l *Loop) {
		if n > 0 {
			l.maxTokens = n
		}
	}
}

// WithPolicy filters and annotates the discovered tools before they are
// declared to the model.
func WithPolicy(p *persona.Policy) Option {
	return func(l *Loop) { l.policy = p }
}

// WithObserver wires a turn-event observer into the loop.
func WithObserver(obs interfaces.TurnObserver) Option {
	return func(l *Loop) { l.observer = obs }
}

// Loop runs the query state machine: model call, tool execution, repeat
// until the model answers in plain text or the iteration bound is hit.
type Loop struct {
	store    *session.Store
	gateway  interfaces.ToolGateway
	provider interfaces.Provider
	card     *persona.Card
	policy   *persona.Policy
	observer interfaces.TurnObserver
	logger   *slog.Logger

	maxIterations int
	maxParallel   int
	maxTokens     int
}

// New creates a query loop over the given collaborators. A nil card
// falls back to the compiled-in persona.
func New(store *session.Store, gateway interfaces.ToolGateway, provider interfaces.Provider, card *persona.Card, logger *slog.Logger, opts ...Option) *Loop {
	if card == nil {
		card = persona.DefaultCard()
	}
	l := &Loop{
		store:         store,
		gateway:       gateway,
		provider:      provider,
		card:          card,
		logger:        logger.With("component", "loop"),
		maxIterations: defaultMaxIterations,
		maxParallel:   1,
		maxTokens:     defaultMaxTokens,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Declarations resolves the tool set currently presented to the model:
// gateway discovery, policy filter, schema projection.
func (l *Loop) Declarations(ctx context.Context) ([]interfaces.ToolSchema, error) {
	descriptors, err := l.gateway.Discover(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover tools: %w", err)
	}
	descriptors = l.policy.Apply(descriptors)
	schemas, err := schema.Adapt(descriptors)
	if err != nil {
		return nil, fmt.Errorf("adapt tools: %w", err)
	}
	return schemas, nil
}

// Run drives one query against a session to a terminal outcome.
//
// The tool declarations are resolved before the session gate is taken,
// so a discovery or adaptation failure aborts the query with the
// history untouched. A model-provider failure mid-loop likewise appends
// nothing for the failed call.
func (l *Loop) Run(ctx context.Context, sessionID, query string) (*Result, error) {
	start := time.Now()

	tools, err := l.Declarations(ctx)
	if err != nil {
		return nil, err
	}

	release, err := l.store.Acquire(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	defer release()

	res := &Result{SessionID: sessionID}
	if err := l.append(res, interfaces.UserTurn(query)); err != nil {
		return nil, err
	}

	for iteration := 0; iteration < l.maxIterations; iteration++ {
		res.Metrics.Iterations++

		history, err := l.store.History(sessionID)
		if err != nil {
			return nil, fmt.Errorf("replay history: %w", err)
		}

		res.Metrics.ModelCalls++
		resp, err := l.provider.Chat(ctx, interfaces.ChatRequest{
			Model:        l.card.Model,
			SystemPrompt: l.card.Instruction,
			History:      history,
			MaxTokens:    l.maxTokens,
			Temperature:  l.card.Temperature,
			Tools:        tools,
		})
		if err != nil {
			l.logger.Error("model call failed",
				"session", sessionID, "iteration", iteration, "error", err)
			l.publish(interfaces.TurnEvent{
				Type:      interfaces.EventQueryDone,
				SessionID: sessionID,
				Outcome:   "error",
			})
			return nil, fmt.Errorf("%w: %s", ErrModelUnavailable, err)
		}

		if len(resp.ToolCalls) == 0 {
			if err := l.append(res, interfaces.ModelTextTurn(resp.Text)); err != nil {
				return nil, err
			}
			res.Answer = resp.Text
			res.Outcome = OutcomeDone
			break
		}

		if resp.Text != "" {
			l.logger.Debug("discarding interim text alongside tool calls",
				"session", sessionID, "chars", len(resp.Text))
		}

		if err := l.append(res, interfaces.ModelCallTurn(resp.ToolCalls...)); err != nil {
			return nil, err
		}

		results := l.executeCalls(ctx, sessionID, resp.ToolCalls)
		for _, result := range results {
			res.Metrics.ToolCalls++
			if result.IsError {
				res.Metrics.ToolErrors++
			}
			if err := l.append(res, interfaces.ToolTurn(result)); err != nil {
				return nil, err
			}
		}

		if iteration == l.maxIterations-1 {
			res.Answer = degradedAnswer(results)
			res.Outcome = OutcomeLoopExceeded
		}
	}

	l.store.Touch(sessionID)
	res.Metrics.Duration = time.Since(start)
	l.publish(interfaces.TurnEvent{
		Type:      interfaces.EventQueryDone,
		SessionID: sessionID,
		Outcome:   string(res.Outcome),
	})
	l.logger.Info("query complete",
		"session", sessionID,
		"outcome", res.Outcome,
		"iterations", res.Metrics.Iterations,
		"tool_calls", res.Metrics.ToolCalls)
	return res, nil
}

// append commits one turn, records it on the result, and notifies
// observers with the turn's history index.
func (l *Loop) append(res *Result, turn interfaces.Turn) error {
	count, err := l.store.Append(res.SessionID, turn)
	if err != nil {
		return fmt.Errorf("append turn: %w", err)
	}
	res.NewTurns = append(res.NewTurns, turn)
	l.publish(interfaces.TurnEvent{
		Type:      interfaces.EventTurnAppended,
		SessionID: res.SessionID,
		Turn:      &turn,
		TurnIndex: count - 1,
	})
	return nil
}

// executeCalls resolves a model turn's tool calls, returning results
// indexed in request order. Sequential unless WithParallelTools raised
// the limit; for a single call the fan-out is skipped entirely.
func (l *Loop) executeCalls(ctx context.Context, sessionID string, calls []interfaces.ToolCall) []interfaces.ToolResult {
	results := make([]interfaces.ToolResult, len(calls))

	if l.maxParallel <= 1 || len(calls) == 1 {
		for i, call := range calls {
			results[i] = l.executeOne(ctx, sessionID, call)
		}
		return results
	}

	g := new(errgroup.Group)
	g.SetLimit(l.maxParallel)
	for i, call := range calls {
		g.Go(func() error {
			// Unique index per goroutine, no mutex needed.
			results[i] = l.executeOne(ctx, sessionID, call)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// executeOne invokes a single tool. Gateway failures of every kind come
// back as in-band failure results, never as errors: the model decides
// how to proceed.
func (l *Loop) executeOne(ctx context.Context, sessionID string, call interfaces.ToolCall) interfaces.ToolResult {
	l.publish(interfaces.TurnEvent{
		Type:      interfaces.EventToolStarted,
		SessionID: sessionID,
		Tool:      call.Name,
	})

	started := time.Now()
	content, err := l.gateway.Invoke(ctx, call.Name, call.Arguments)
	result := interfaces.ToolResult{
		ID:        call.ID,
		Name:      call.Name,
		Arguments: call.Arguments,
		Content:   content,
	}
	outcome := "ok"
	if err != nil {
		result.Content = err.Error()
		result.IsError = true
		outcome = "error"
		l.logger.Warn("tool call failed",
			"session", sessionID, "tool", call.Name, "error", err)
	}
	l.logger.Debug("tool call finished",
		"session", sessionID,
		"tool", call.Name,
		"elapsed_ms", time.Since(started).Milliseconds(),
		"is_error", result.IsError)

	l.publish(interfaces.TurnEvent{
		Type:      interfaces.EventToolFinished,
		SessionID: sessionID,
		Tool:      call.Name,
		Outcome:   outcome,
	})
	return result
}

func (l *Loop) publish(ev interfaces.TurnEvent) {
	if l.observer == nil {
		return
	}
	ev.Timestamp = time.Now()
	l.observer.ObserveTurn(ev)
}

// degradedAnswer summarizes the last batch of tool results when the
// iteration bound terminates the loop before a final model answer.
func degradedAnswer(results []interfaces.ToolResult) string {
	const prefix = "I hit the tool-call limit before completing your request."
	if len(results) == 0 {
		return prefix
	}
	summary := make([]string, 0, len(results))
	for _, r := range results {
		if r.IsError {
			summary = append(summary, fmt.Sprintf("%s failed: %s", r.Name, r.Content))
			continue
		}
		summary = append(summary, fmt.Sprintf("%s returned: %s", r.Name, truncate(r.Content, 100)))
	}
	return prefix + " Partial results: " + strings.Join(summary, "; ")
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
