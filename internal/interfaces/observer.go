package interfaces

import "time"

// TurnEventType classifies loop lifecycle notifications.
type TurnEventType string

const (
	// EventStreamOpen is sent once when an event subscription goes live.
	EventStreamOpen TurnEventType = "stream_open"
	// EventTurnAppended fires after a turn is committed to history.
	EventTurnAppended TurnEventType = "turn_appended"
	// EventToolStarted fires before a tool invocation begins.
	EventToolStarted TurnEventType = "tool_started"
	// EventToolFinished fires after a tool invocation resolves.
	EventToolFinished TurnEventType = "tool_finished"
	// EventQueryDone fires when a query reaches a terminal state.
	EventQueryDone TurnEventType = "query_done"
)

// TurnEvent is a loop lifecycle notification for one session.
type TurnEvent struct {
	Type      TurnEventType `json:"type"`
	SessionID string        `json:"session_id"`
	Turn      *Turn         `json:"turn,omitempty"`
	TurnIndex int           `json:"turn_index,omitempty"`
	Tool      string        `json:"tool,omitempty"`
	Outcome   string        `json:"outcome,omitempty"`
	Timestamp time.Time     `json:"timestamp"`
}

// TurnObserver receives loop lifecycle events. Implementations must not
// block; slow consumers drop events rather than stall the loop.
type TurnObserver interface {
	ObserveTurn(ev TurnEvent)
}
