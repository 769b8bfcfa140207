package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/charla-ai/charla/internal/interfaces"
)

const wsWriteTimeout = 5 * time.Second

// handleSessionWS upgrades the connection and streams the session's turn
// events as JSON frames until the client disconnects. Slow clients lose
// events at the hub, never here; a stalled write ends the stream.
func (s *Server) handleSessionWS(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/ws/session/")
	if id == "" || strings.Contains(id, "/") {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}
	if _, err := s.store.Get(id); err != nil {
		s.respondError(w, err)
		return
	}
	if s.hub == nil {
		http.Error(w, "event stream not enabled", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // accept any Origin for dev convenience
	})
	if err != nil {
		s.logger.Error("websocket accept failed", "error", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream ended")

	events, cancel := s.hub.Subscribe(id)
	defer cancel()

	s.logger.Info("event stream connected", "session", id, "remote", r.RemoteAddr)

	// The stream is write-only; CloseRead discards client frames and
	// cancels the returned context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	// First frame confirms the subscription is live; everything published
	// after this point reaches the client.
	if err := writeEvent(ctx, conn, interfaces.TurnEvent{
		Type:      interfaces.EventStreamOpen,
		SessionID: id,
		Timestamp: time.Now(),
	}); err != nil {
		return
	}

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := writeEvent(ctx, conn, ev); err != nil {
				s.logger.Debug("event stream ended", "session", id, "error", err)
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// writeEvent sends one frame with a bounded write deadline.
func writeEvent(ctx context.Context, conn *websocket.Conn, ev interface{}) error {
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return wsjson.Write(writeCtx, conn, ev)
}
