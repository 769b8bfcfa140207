package orchestrator

import (
	"context"
	"testing"

	"github.com/charla-ai/charla/internal/interfaces"
)

func drainEvents(ch <-chan interfaces.TurnEvent) []interfaces.TurnEvent {
	var events []interfaces.TurnEvent
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		default:
			return events
		}
	}
}

func TestHubDeliversToSessionSubscribers(t *testing.T) {
	hub := NewHub(testLogger())

	ch, cancel := hub.Subscribe("s1")
	defer cancel()
	other, cancelOther := hub.Subscribe("s2")
	defer cancelOther()

	hub.ObserveTurn(interfaces.TurnEvent{Type: interfaces.EventTurnAppended, SessionID: "s1"})
	hub.ObserveTurn(interfaces.TurnEvent{Type: interfaces.EventQueryDone, SessionID: "s1"})

	events := drainEvents(ch)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Type != interfaces.EventTurnAppended || events[1].Type != interfaces.EventQueryDone {
		t.Errorf("unexpected event order: %v, %v", events[0].Type, events[1].Type)
	}

	if got := drainEvents(other); len(got) != 0 {
		t.Errorf("other session received %d events", len(got))
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	hub := NewHub(testLogger())
	ch, cancel := hub.Subscribe("s1")
	defer cancel()

	// Publish past the buffer; none of these may block.
	for i := 0; i < subscriberBuffer+10; i++ {
		hub.ObserveTurn(interfaces.TurnEvent{Type: interfaces.EventTurnAppended, SessionID: "s1"})
	}

	if got := len(drainEvents(ch)); got != subscriberBuffer {
		t.Errorf("expected %d buffered events, got %d", subscriberBuffer, got)
	}
}

func TestHubCancelClosesChannel(t *testing.T) {
	hub := NewHub(testLogger())
	ch, cancel := hub.Subscribe("s1")

	cancel()
	cancel() // safe to repeat

	if _, ok := <-ch; ok {
		t.Error("expected closed channel after cancel")
	}

	// Publishing after cancel must not panic.
	hub.ObserveTurn(interfaces.TurnEvent{Type: interfaces.EventTurnAppended, SessionID: "s1"})
}

func TestRunEmitsLifecycleEvents(t *testing.T) {
	provider := &mockProvider{script: []chatScript{
		callReply(interfaces.ToolCall{
			Name:      "recuperar_directorios_principales",
			Arguments: map[string]any{"usuario": "X"},
		}),
		textReply("dos directorios"),
	}}
	gw := newMockGateway(dirDescriptor())
	gw.results["recuperar_directorios_principales"] = `["docs", "photos"]`

	hub := NewHub(testLogger())
	loop, _, id := newTestLoop(t, provider, gw, WithObserver(hub))

	ch, cancel := hub.Subscribe(id)
	defer cancel()

	if _, err := loop.Run(context.Background(), id, "lista"); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	events := drainEvents(ch)
	want := []interfaces.TurnEventType{
		interfaces.EventTurnAppended, // user
		interfaces.EventTurnAppended, // model call
		interfaces.EventToolStarted,
		interfaces.EventToolFinished,
		interfaces.EventTurnAppended, // tool result
		interfaces.EventTurnAppended, // final text
		interfaces.EventQueryDone,
	}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d: %+v", len(want), len(events), events)
	}
	for i, typ := range want {
		if events[i].Type != typ {
			t.Errorf("event %d: expected %s, got %s", i, typ, events[i].Type)
		}
	}
	if events[2].Tool != "recuperar_directorios_principales" {
		t.Errorf("tool event missing tool name: %+v", events[2])
	}
	if events[len(events)-1].Outcome != string(OutcomeDone) {
		t.Errorf("final event should carry the outcome, got %q", events[len(events)-1].Outcome)
	}
}
