package tui

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/charla-ai/charla/internal/interfaces"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func TestClientSessionLifecycle(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/session/new", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("expected POST, got %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"session_id": "abc-123"})
	})
	mux.HandleFunc("/session/abc-123/query", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode query body: %v", err)
		}
		if body["query"] != "hola" {
			t.Errorf("expected query 'hola', got %q", body["query"])
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"session_id": "abc-123",
			"answer":     "Tienes dos documentos.",
			"outcome":    "done",
			"metrics":    map[string]int{"iterations": 2, "model_calls": 2, "tool_calls": 1},
		})
	})
	mux.HandleFunc("/session/abc-123", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodDelete {
			t.Errorf("expected DELETE, got %s", r.Method)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"session_id": "abc-123", "deleted": true})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	ctx := context.Background()

	id, err := client.NewSession(ctx)
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if id != "abc-123" {
		t.Errorf("expected session abc-123, got %q", id)
	}

	res, err := client.Query(ctx, id, "hola")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if res.Answer != "Tienes dos documentos." {
		t.Errorf("unexpected answer %q", res.Answer)
	}
	if res.Outcome != "done" {
		t.Errorf("unexpected outcome %q", res.Outcome)
	}
	if res.Metrics.ToolCalls != 1 {
		t.Errorf("expected 1 tool call, got %d", res.Metrics.ToolCalls)
	}

	if err := client.DeleteSession(ctx, id); err != nil {
		t.Fatalf("delete session: %v", err)
	}
}

func TestClientToolsAndHealth(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/tools", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"count": 2,
			"tools": []map[string]any{
				{"name": "recuperar_directorios_principales", "description": "dirs"},
				{"name": "recuperar_archivos_directorio", "description": "files"},
			},
		})
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":   "ok",
			"provider": "gemini",
			"tools":    2,
			"sessions": 1,
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)

	tools, err := client.Tools(context.Background())
	if err != nil {
		t.Fatalf("tools: %v", err)
	}
	if len(tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(tools))
	}
	if tools[0].Name != "recuperar_directorios_principales" {
		t.Errorf("unexpected tool %q", tools[0].Name)
	}

	health, err := client.Health(context.Background())
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	if health.Status != "ok" || health.Provider != "gemini" {
		t.Errorf("unexpected health %+v", health)
	}
}

func TestClientErrorPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_ = json.NewEncoder(w).Encode(map[string]string{"error": "session limit reached"})
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.NewSession(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "503") || !strings.Contains(err.Error(), "session limit reached") {
		t.Errorf("error should carry status and detail, got %q", err.Error())
	}
}

func TestClientErrorPlainBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	client := NewClient(srv.URL)
	_, err := client.Health(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error should carry the body, got %q", err.Error())
	}
}

func TestStreamDeliversEvents(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws/session/", func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			t.Errorf("accept: %v", err)
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")

		ctx := r.Context()
		_ = wsjson.Write(ctx, conn, interfaces.TurnEvent{
			Type:      interfaces.EventStreamOpen,
			SessionID: "s1",
		})
		_ = wsjson.Write(ctx, conn, interfaces.TurnEvent{
			Type:      interfaces.EventToolStarted,
			SessionID: "s1",
			Tool:      "recuperar_archivos_directorio",
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := NewClient(srv.URL)
	stream, err := client.Stream(context.Background(), "s1")
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	defer stream.Close()

	first := mustEvent(t, stream.Events)
	if first.Type != interfaces.EventStreamOpen {
		t.Errorf("expected stream_open first, got %s", first.Type)
	}

	second := mustEvent(t, stream.Events)
	if second.Tool != "recuperar_archivos_directorio" {
		t.Errorf("unexpected tool %q", second.Tool)
	}
}

func mustEvent(t *testing.T, events <-chan interfaces.TurnEvent) interfaces.TurnEvent {
	t.Helper()
	select {
	case ev, ok := <-events:
		if !ok {
			t.Fatal("event channel closed early")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
	}
	return interfaces.TurnEvent{}
}

func TestEnterSendsQuery(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())

	updated, _ := m.Update(tea.WindowSizeMsg{Width: 120, Height: 40})
	m = updated.(tuiModel)
	updated, _ = m.Update(bootMsg{sessionID: "abc-123"})
	m = updated.(tuiModel)

	m.input.SetValue("hola")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(tuiModel)

	if !m.busy {
		t.Error("model should be busy after sending")
	}
	if cmd == nil {
		t.Error("enter should produce a query command")
	}
	if len(m.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(m.messages))
	}
	if !m.messages[0].isUser || m.messages[0].content != "hola" {
		t.Errorf("unexpected entry %+v", m.messages[0])
	}
	if m.input.Value() != "" {
		t.Errorf("input should be cleared, got %q", m.input.Value())
	}
}

func TestEnterIgnoredWhileBusy(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())
	updated, _ := m.Update(bootMsg{sessionID: "abc-123"})
	m = updated.(tuiModel)
	m.busy = true

	m.input.SetValue("otra")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(tuiModel)

	if cmd != nil {
		t.Error("busy model should not produce a command")
	}
	if len(m.messages) != 0 {
		t.Errorf("expected no messages, got %d", len(m.messages))
	}
}

func TestEnterIgnoredWithoutSession(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())

	m.input.SetValue("hola")
	updated, cmd := m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	m = updated.(tuiModel)

	if cmd != nil {
		t.Error("model without a session should not produce a command")
	}
	if len(m.messages) != 0 {
		t.Errorf("expected no messages, got %d", len(m.messages))
	}
}

func TestAnswerAppendsToChat(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())
	m.busy = true

	updated, _ := m.Update(answerMsg{result: &QueryResult{Answer: "Hecho.", Outcome: "done"}})
	m = updated.(tuiModel)

	if m.busy {
		t.Error("answer should clear the busy flag")
	}
	if len(m.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(m.messages))
	}
	if m.messages[0].sender != "charla" || m.messages[0].content != "Hecho." {
		t.Errorf("unexpected entry %+v", m.messages[0])
	}
}

func TestLoopExceededAnswerIsMarked(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())

	updated, _ := m.Update(answerMsg{result: &QueryResult{Answer: "Parcial.", Outcome: "loop_exceeded"}})
	m = updated.(tuiModel)

	if m.messages[0].sender != "charla (cut short)" {
		t.Errorf("unexpected sender %q", m.messages[0].sender)
	}
}

func TestErrorAppendsToChat(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())
	m.busy = true

	updated, _ := m.Update(errMsg{err: context.DeadlineExceeded})
	m = updated.(tuiModel)

	if m.busy {
		t.Error("error should clear the busy flag")
	}
	if len(m.messages) != 1 || !m.messages[0].isErr {
		t.Fatalf("expected one error entry, got %+v", m.messages)
	}
}

func TestEventsFeedActivity(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())

	events := []interfaces.TurnEvent{
		{Type: interfaces.EventStreamOpen},
		{Type: interfaces.EventToolStarted, Tool: "recuperar_archivos_directorio"},
		{Type: interfaces.EventToolFinished, Tool: "recuperar_archivos_directorio", Outcome: "error"},
		{Type: interfaces.EventQueryDone, Outcome: "done"},
	}
	for _, ev := range events {
		updated, _ := m.Update(eventMsg{event: ev})
		m = updated.(tuiModel)
	}

	if len(m.activity) != 4 {
		t.Fatalf("expected 4 activity entries, got %d", len(m.activity))
	}
	if m.activity[1].text != "→ recuperar_archivos_directorio" {
		t.Errorf("unexpected entry %q", m.activity[1].text)
	}
	if m.activity[2].text != "✗ recuperar_archivos_directorio" {
		t.Errorf("failed tool should be marked, got %q", m.activity[2].text)
	}
	if m.activity[3].text != "query done" {
		t.Errorf("unexpected entry %q", m.activity[3].text)
	}
}

func TestActivityFeedIsBounded(t *testing.T) {
	m := newModel(NewClient("http://localhost:0"), testLogger())
	for i := 0; i < maxActivity*2; i++ {
		m.note("entry")
	}
	if len(m.activity) != maxActivity {
		t.Errorf("expected %d entries, got %d", maxActivity, len(m.activity))
	}
}

func TestShortID(t *testing.T) {
	if got := shortID("0d4bd1f6-4bcc-4f6f-8d62-a5a3ca2ff45c"); got != "0d4bd1f6" {
		t.Errorf("shortID = %q", got)
	}
	if got := shortID("abc"); got != "abc" {
		t.Errorf("shortID = %q", got)
	}
}
