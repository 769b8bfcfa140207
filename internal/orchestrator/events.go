package orchestrator

import (
	"log/slog"
	"sync"

	"github.com/charla-ai/charla/internal/interfaces"
)

const subscriberBuffer = 16

// Hub fans turn events out to per-session subscribers. Publishing never
// blocks: a subscriber whose buffer is full misses events instead of
// stalling the loop.
type Hub struct {
	mu     sync.RWMutex
	subs   map[string]map[int]chan interfaces.TurnEvent
	nextID int
	logger *slog.Logger
}

// NewHub creates an event hub.
func NewHub(logger *slog.Logger) *Hub {
	return &Hub{
		subs:   make(map[string]map[int]chan interfaces.TurnEvent),
		logger: logger.With("component", "events"),
	}
}

// Subscribe registers for one session's events. The cancel func removes
// the subscription and closes the returned channel; calling it more than
// once is safe.
func (h *Hub) Subscribe(sessionID string) (<-chan interfaces.TurnEvent, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++
	ch := make(chan interfaces.TurnEvent, subscriberBuffer)
	if h.subs[sessionID] == nil {
		h.subs[sessionID] = make(map[int]chan interfaces.TurnEvent)
	}
	h.subs[sessionID][id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs[sessionID], id)
			if len(h.subs[sessionID]) == 0 {
				delete(h.subs, sessionID)
			}
			close(ch)
		})
	}
	return ch, cancel
}

// ObserveTurn delivers an event to every subscriber of its session.
// Sends are non-blocking; closes cannot race them because both happen
// under the hub lock.
func (h *Hub) ObserveTurn(ev interfaces.TurnEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, ch := range h.subs[ev.SessionID] {
		select {
		case ch <- ev:
		default:
		}
	}
}

var _ interfaces.TurnObserver = (*Hub)(nil)
