package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/charla-ai/charla/internal/gateway"
	"github.com/charla-ai/charla/internal/interfaces"
	"github.com/charla-ai/charla/internal/persona"
	"github.com/charla-ai/charla/internal/session"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// Mock provider

type chatScript struct {
	resp *interfaces.ChatResponse
	err  error
}

func textReply(text string) chatScript {
	return chatScript{resp: &interfaces.ChatResponse{Text: text, FinishReason: "stop"}}
}

func callReply(calls ...interfaces.ToolCall) chatScript {
	return chatScript{resp: &interfaces.ChatResponse{ToolCalls: calls, FinishReason: "tool_calls"}}
}

type mockProvider struct {
	mu       sync.Mutex
	script   []chatScript
	fn       func(req interfaces.ChatRequest) (*interfaces.ChatResponse, error)
	calls    int
	requests []interfaces.ChatRequest
}

func (m *mockProvider) Name() string { return "mock" }

func (m *mockProvider) HealthCheck(ctx context.Context) error { return nil }

func (m *mockProvider) Chat(ctx context.Context, req interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.requests = append(m.requests, req)
	if m.fn != nil {
		return m.fn(req)
	}
	if len(m.script) == 0 {
		return &interfaces.ChatResponse{Text: "mock response", FinishReason: "stop"}, nil
	}
	next := m.script[0]
	m.script = m.script[1:]
	return next.resp, next.err
}

func (m *mockProvider) getCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *mockProvider) getRequests() []interfaces.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]interfaces.ChatRequest{}, m.requests...)
}

// Mock gateway

type mockGateway struct {
	mu          sync.Mutex
	descriptors []interfaces.ToolDescriptor
	discoverErr error
	results     map[string]string
	errs        map[string]error
	delays      map[string]time.Duration
	invoked     []string
}

func newMockGateway(descriptors ...interfaces.ToolDescriptor) *mockGateway {
	return &mockGateway{
		descriptors: descriptors,
		results:     make(map[string]string),
		errs:        make(map[string]error),
		delays:      make(map[string]time.Duration),
	}
}

func (m *mockGateway) Discover(ctx context.Context) ([]interfaces.ToolDescriptor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.discoverErr != nil {
		return nil, m.discoverErr
	}
	return append([]interfaces.ToolDescriptor{}, m.descriptors...), nil
}

func (m *mockGateway) Refresh(ctx context.Context) ([]interfaces.ToolDescriptor, error) {
	return m.Discover(ctx)
}

func (m *mockGateway) Invoke(ctx context.Context, name string, args map[string]any) (string, error) {
	m.mu.Lock()
	m.invoked = append(m.invoked, name)
	delay := m.delays[name]
	err := m.errs[name]
	result, ok := m.results[name]
	m.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return "", err
	}
	if !ok {
		result = "ok"
	}
	return result, nil
}

func (m *mockGateway) Close() error { return nil }

func (m *mockGateway) getInvoked() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string{}, m.invoked...)
}

func dirDescriptor() interfaces.ToolDescriptor {
	return interfaces.ToolDescriptor{
		Name:        "recuperar_directorios_principales",
		Description: "Recupera los directorios principales de un usuario",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"usuario": map[string]any{"type": "string"},
			},
			"required": []any{"usuario"},
		},
	}
}

func newTestLoop(t *testing.T, provider *mockProvider, gw *mockGateway, opts ...Option) (*Loop, *session.Store, string) {
	t.Helper()
	store := session.NewStore(testLogger())
	snap, err := store.Create()
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	loop := New(store, gw, provider, persona.DefaultCard(), testLogger(), opts...)
	return loop, store, snap.ID
}

// Tests

func TestRunTextAnswer(t *testing.T) {
	provider := &mockProvider{script: []chatScript{textReply("Hola, ¿en qué puedo ayudarte?")}}
	loop, store, id := newTestLoop(t, provider, newMockGateway(dirDescriptor()))

	res, err := loop.Run(context.Background(), id, "hola")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Outcome != OutcomeDone {
		t.Errorf("expected done, got %s", res.Outcome)
	}
	if res.Answer != "Hola, ¿en qué puedo ayudarte?" {
		t.Errorf("unexpected answer: %s", res.Answer)
	}
	if len(res.NewTurns) != 2 {
		t.Errorf("expected 2 new turns, got %d", len(res.NewTurns))
	}

	history, _ := store.History(id)
	if len(history) != 2 {
		t.Fatalf("expected 2 turns in history, got %d", len(history))
	}
	if history[0].Role != interfaces.RoleUser || history[1].Role != interfaces.RoleModel {
		t.Errorf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}

	reqs := provider.getRequests()
	if len(reqs) != 1 {
		t.Fatalf("expected 1 model call, got %d", len(reqs))
	}
	if reqs[0].SystemPrompt == "" {
		t.Error("expected persona system prompt on the request")
	}
	if len(reqs[0].Tools) != 1 {
		t.Errorf("expected 1 declared tool, got %d", len(reqs[0].Tools))
	}
	if reqs[0].Model != "gemini-2.5-flash" {
		t.Errorf("expected persona model, got %s", reqs[0].Model)
	}
}

func TestRunDirectoryListingScenario(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		callReply(interfaces.ToolCall{
			Name:      "recuperar_directorios_principales",
			Arguments: map[string]any{"usuario": "X"},
		}),
		textReply("User X has directories: docs, photos"),
	}}
	gw := newMockGateway(dirDescriptor())
	gw.results["recuperar_directorios_principales"] = `["docs", "photos"]`

	loop, store, id := newTestLoop(t, provider, gw)

	res, err := loop.Run(context.Background(), id, "list directories for user X")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Answer != "User X has directories: docs, photos" {
		t.Errorf("answer not returned verbatim: %s", res.Answer)
	}
	if res.Outcome != OutcomeDone {
		t.Errorf("expected done, got %s", res.Outcome)
	}
	if res.Metrics.ModelCalls != 2 {
		t.Errorf("expected 2 model calls, got %d", res.Metrics.ModelCalls)
	}

	history, _ := store.History(id)
	// user turn plus exactly 3 appended: model-with-calls, tool-result, model-text
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
	if history[1].Role != interfaces.RoleModel || len(history[1].Calls) != 1 {
		t.Errorf("turn 1 should carry the tool call, got %+v", history[1])
	}
	if history[2].Role != interfaces.RoleTool {
		t.Fatalf("turn 2 should be the tool result, got %s", history[2].Role)
	}
	if history[2].Result.Name != "recuperar_directorios_principales" {
		t.Errorf("result names wrong tool: %s", history[2].Result.Name)
	}
	if history[2].Result.Content != `["docs", "photos"]` {
		t.Errorf("unexpected result content: %s", history[2].Result.Content)
	}
	if history[3].Role != interfaces.RoleModel || history[3].Text != res.Answer {
		t.Errorf("turn 3 should carry the final answer, got %+v", history[3])
	}

	// The second model call must replay the tool exchange.
	reqs := provider.getRequests()
	second := reqs[1].History
	if len(second) != 3 {
		t.Fatalf("second call should see 3 turns, got %d", len(second))
	}
	if second[2].Role != interfaces.RoleTool {
		t.Errorf("second call missing the tool result, got role %s", second[2].Role)
	}
}

func TestRunFailureIsolationContinues(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		callReply(interfaces.ToolCall{
			Name:      "recuperar_directorios_principales",
			Arguments: map[string]any{"usuario": "X"},
		}),
		textReply("Lo siento, el disco está lleno."),
	}}
	gw := newMockGateway(dirDescriptor())
	gw.errs["recuperar_directorios_principales"] = &gateway.ToolError{
		Kind:   gateway.KindRemote,
		Tool:   "recuperar_directorios_principales",
		Detail: "disk full",
	}

	loop, store, id := newTestLoop(t, provider, gw)

	res, err := loop.Run(context.Background(), id, "list directories")
	if err != nil {
		t.Fatalf("tool failure must not abort the query: %v", err)
	}
	if res.Outcome != OutcomeDone {
		t.Errorf("expected done, got %s", res.Outcome)
	}
	if res.Metrics.ToolErrors != 1 {
		t.Errorf("expected 1 tool error, got %d", res.Metrics.ToolErrors)
	}

	history, _ := store.History(id)
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}
	failed := history[2].Result
	if failed == nil || !failed.IsError {
		t.Fatalf("turn 2 should record the failure, got %+v", history[2])
	}
	if !strings.Contains(failed.Content, "disk full") {
		t.Errorf("failure detail lost: %s", failed.Content)
	}
}

func TestRunBoundTerminatesAfterOneModelCall(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		callReply(interfaces.ToolCall{
			Name:      "recuperar_directorios_principales",
			Arguments: map[string]any{"usuario": "X"},
		}),
	}}
	gw := newMockGateway(dirDescriptor())
	gw.results["recuperar_directorios_principales"] = `["docs"]`

	loop, store, id := newTestLoop(t, provider, gw, WithMaxIterations(1))

	res, err := loop.Run(context.Background(), id, "list directories")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if provider.getCalls() != 1 {
		t.Errorf("expected exactly 1 model call, got %d", provider.getCalls())
	}
	if res.Outcome != OutcomeLoopExceeded {
		t.Errorf("expected loop_exceeded, got %s", res.Outcome)
	}
	if !strings.Contains(res.Answer, "recuperar_directorios_principales") {
		t.Errorf("degraded answer should name the tool: %s", res.Answer)
	}

	history, _ := store.History(id)
	// Pending calls still resolve before termination.
	if len(history) != 3 {
		t.Fatalf("expected 3 turns, got %d", len(history))
	}
	if history[2].Role != interfaces.RoleTool {
		t.Errorf("last turn should be the tool result, got %s", history[2].Role)
	}
}

func TestRunModelFailureLeavesHistoryIntact(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		callReply(interfaces.ToolCall{
			Name:      "recuperar_directorios_principales",
			Arguments: map[string]any{"usuario": "X"},
		}),
		{err: errors.New("connection reset")},
	}}
	gw := newMockGateway(dirDescriptor())
	gw.results["recuperar_directorios_principales"] = `["docs"]`

	loop, store, id := newTestLoop(t, provider, gw)

	_, err := loop.Run(context.Background(), id, "list directories")
	if !errors.Is(err, ErrModelUnavailable) {
		t.Fatalf("expected ErrModelUnavailable, got %v", err)
	}

	history, _ := store.History(id)
	// Exactly the state after iteration 1: user, model-with-calls, tool-result.
	if len(history) != 3 {
		t.Fatalf("expected 3 turns after rollback, got %d", len(history))
	}
	if history[2].Role != interfaces.RoleTool {
		t.Errorf("iteration 1's tool result must survive, got %s", history[2].Role)
	}
}

func TestRunDiscoverFailureAborts(t *testing.T) {
	provider := &mockProvider{}
	gw := newMockGateway()
	gw.discoverErr = &gateway.ToolError{Kind: gateway.KindUnavailable, Detail: "connection refused"}

	loop, store, id := newTestLoop(t, provider, gw)

	_, err := loop.Run(context.Background(), id, "hola")
	if err == nil {
		t.Fatal("expected discover failure to abort")
	}
	if !gateway.IsUnavailable(err) {
		t.Errorf("unavailable kind lost through wrapping: %v", err)
	}
	if provider.getCalls() != 0 {
		t.Errorf("model must not be called, got %d calls", provider.getCalls())
	}

	history, _ := store.History(id)
	if len(history) != 0 {
		t.Errorf("history must stay untouched, got %d turns", len(history))
	}
}

func TestRunUnknownSession(t *testing.T) {
	provider := &mockProvider{}
	loop, _, _ := newTestLoop(t, provider, newMockGateway(dirDescriptor()))

	_, err := loop.Run(context.Background(), "missing", "hola")
	if !errors.Is(err, session.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestRunMixedTextAndCallsTreatedAsCalls(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		{resp: &interfaces.ChatResponse{
			Text: "Déjame revisar...",
			ToolCalls: []interfaces.ToolCall{{
				Name:      "recuperar_directorios_principales",
				Arguments: map[string]any{"usuario": "X"},
			}},
		}},
		textReply("Tienes dos directorios."),
	}}
	gw := newMockGateway(dirDescriptor())

	loop, store, id := newTestLoop(t, provider, gw)

	res, err := loop.Run(context.Background(), id, "lista")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if res.Answer != "Tienes dos directorios." {
		t.Errorf("interim text leaked into the answer: %s", res.Answer)
	}

	history, _ := store.History(id)
	if history[1].Text != "" {
		t.Errorf("interim text must be discarded from the call turn: %q", history[1].Text)
	}
	if len(history[1].Calls) != 1 {
		t.Errorf("call turn should record the invocation, got %+v", history[1])
	}
}

func TestRunSerializesConcurrentQueries(t *testing.T) {
	provider := &mockProvider{
		fn: func(req interfaces.ChatRequest) (*interfaces.ChatResponse, error) {
			last := req.History[len(req.History)-1]
			time.Sleep(20 * time.Millisecond)
			return &interfaces.ChatResponse{Text: "echo: " + last.Text, FinishReason: "stop"}, nil
		},
	}
	loop, store, id := newTestLoop(t, provider, newMockGateway(dirDescriptor()))

	var wg sync.WaitGroup
	for _, query := range []string{"primera", "segunda"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := loop.Run(context.Background(), id, query); err != nil {
				t.Errorf("run %s failed: %v", query, err)
			}
		}()
	}
	wg.Wait()

	history, _ := store.History(id)
	if len(history) != 4 {
		t.Fatalf("expected 4 turns, got %d", len(history))
	}

	// Either query may go first, but turns never interleave.
	for i := 0; i < 4; i += 2 {
		if history[i].Role != interfaces.RoleUser {
			t.Fatalf("turn %d: expected user, got %s", i, history[i].Role)
		}
		if history[i+1].Role != interfaces.RoleModel {
			t.Fatalf("turn %d: expected model, got %s", i+1, history[i+1].Role)
		}
		if history[i+1].Text != "echo: "+history[i].Text {
			t.Errorf("answer %d paired with the wrong query: %q / %q",
				i+1, history[i].Text, history[i+1].Text)
		}
	}
}

func TestRunParallelCommitsInRequestOrder(t *testing.T) {
	calls := []interfaces.ToolCall{
		{Name: "lenta", Arguments: map[string]any{}},
		{Name: "media", Arguments: map[string]any{}},
		{Name: "rapida", Arguments: map[string]any{}},
	}
	descriptors := make([]interfaces.ToolDescriptor, 0, len(calls))
	for _, c := range calls {
		descriptors = append(descriptors, interfaces.ToolDescriptor{
			Name:        c.Name,
			InputSchema: map[string]any{"type": "object"},
		})
	}

	provider := &mockProvider{script: []chatScript{
		callReply(calls...),
		textReply("listo"),
	}}
	gw := newMockGateway(descriptors...)
	gw.delays["lenta"] = 40 * time.Millisecond
	gw.delays["media"] = 20 * time.Millisecond
	gw.results["lenta"] = "L"
	gw.results["media"] = "M"
	gw.results["rapida"] = "R"

	loop, store, id := newTestLoop(t, provider, gw, WithParallelTools(3))

	if _, err := loop.Run(context.Background(), id, "todo"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	history, _ := store.History(id)
	// user, model-with-calls, three results, final text
	if len(history) != 6 {
		t.Fatalf("expected 6 turns, got %d", len(history))
	}
	wantOrder := []string{"lenta", "media", "rapida"}
	wantContent := []string{"L", "M", "R"}
	for i, name := range wantOrder {
		turn := history[2+i]
		if turn.Result == nil || turn.Result.Name != name {
			t.Errorf("result %d: expected %s, got %+v", i, name, turn)
			continue
		}
		if turn.Result.Content != wantContent[i] {
			t.Errorf("result %d: expected content %s, got %s", i, wantContent[i], turn.Result.Content)
		}
	}
}

func TestDegradedAnswerSummarizesResults(t *testing.T) {
	answer := degradedAnswer([]interfaces.ToolResult{
		{Name: "recuperar_directorios_principales", Content: `["docs"]`},
		{Name: "recuperar_archivos_directorio", Content: "disco lleno", IsError: true},
	})

	if !strings.Contains(answer, `recuperar_directorios_principales returned: ["docs"]`) {
		t.Errorf("success summary missing: %s", answer)
	}
	if !strings.Contains(answer, "recuperar_archivos_directorio failed: disco lleno") {
		t.Errorf("failure summary missing: %s", answer)
	}

	long := strings.Repeat("x", 500)
	answer = degradedAnswer([]interfaces.ToolResult{{Name: "t", Content: long}})
	if strings.Contains(answer, long) {
		t.Error("long results must be truncated in the summary")
	}
}
