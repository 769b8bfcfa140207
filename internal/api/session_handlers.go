package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/charla-ai/charla/internal/interfaces"
	"github.com/charla-ai/charla/internal/session"
)

// queryRequest is the body of POST /session/{id}/query.
type queryRequest struct {
	Query string `json:"query"`
}

// handleSessionNew creates a session. At the session cap it sweeps expired
// sessions and retries once before reporting 503.
func (s *Server) handleSessionNew(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	snap, err := s.store.Create()
	if errors.Is(err, session.ErrLimit) {
		if freed := s.store.Sweep(s.sessionTTL); freed > 0 {
			s.logger.Info("session cap reached, swept expired sessions", "freed", freed)
			snap, err = s.store.Create()
		}
	}
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.logger.Info("session created", "session", snap.ID)
	s.respondJSON(w, map[string]string{"session_id": snap.ID})
}

// handleSessions lists session snapshots
func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessions := s.store.List()
	s.respondJSON(w, map[string]interface{}{
		"count":    len(sessions),
		"sessions": sessions,
	})
}

// handleSessionDetail dispatches /session/{id} and its sub-resources.
func (s *Server) handleSessionDetail(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/session/")
	parts := strings.Split(path, "/")

	id := parts[0]
	action := ""
	if len(parts) > 1 {
		action = parts[1]
	}

	if id == "" {
		http.Error(w, "session id required", http.StatusBadRequest)
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		s.handleSessionGet(w, id)
	case action == "" && r.Method == http.MethodDelete:
		s.handleSessionDelete(w, id)
	case action == "query" && r.Method == http.MethodPost:
		s.handleQuery(w, r, id)
	case action == "history" && r.Method == http.MethodGet:
		s.handleHistoryGet(w, id)
	case action == "history" && r.Method == http.MethodDelete:
		s.handleHistoryClear(w, id)
	case action == "save" && r.Method == http.MethodPost:
		s.handleSessionSave(w, r, id)
	default:
		http.Error(w, "invalid action or method", http.StatusBadRequest)
	}
}

// handleSessionGet returns one session snapshot
func (s *Server) handleSessionGet(w http.ResponseWriter, id string) {
	snap, err := s.store.Get(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, snap)
}

// handleSessionDelete removes a session; deleting twice is not an error.
func (s *Server) handleSessionDelete(w http.ResponseWriter, id string) {
	deleted := s.store.Delete(id)
	if deleted {
		s.logger.Info("session deleted", "session", id)
	}
	s.respondJSON(w, map[string]interface{}{
		"session_id": id,
		"deleted":    deleted,
	})
}

// handleQuery runs one query through the orchestration loop. A bounded
// loop_exceeded outcome is still a 200; the degraded answer is the payload.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request, id string) {
	var req queryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		http.Error(w, "query is required", http.StatusBadRequest)
		return
	}

	result, err := s.loop.Run(r.Context(), id, req.Query)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, result)
}

// handleHistoryGet returns the full turn list
func (s *Server) handleHistoryGet(w http.ResponseWriter, id string) {
	turns, err := s.store.History(id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	if turns == nil {
		turns = []interfaces.Turn{}
	}
	s.respondJSON(w, map[string]interface{}{
		"session_id": id,
		"turn_count": len(turns),
		"turns":      turns,
	})
}

// handleHistoryClear empties the turn list but keeps the session alive
func (s *Server) handleHistoryClear(w http.ResponseWriter, id string) {
	if err := s.store.ClearHistory(id); err != nil {
		s.respondError(w, err)
		return
	}
	s.logger.Info("history cleared", "session", id)
	s.respondJSON(w, map[string]string{
		"session_id": id,
		"status":     "cleared",
	})
}

// handleSessionSave archives the session's current transcript.
func (s *Server) handleSessionSave(w http.ResponseWriter, r *http.Request, id string) {
	turns, err := s.store.History(id)
	if err != nil {
		s.respondError(w, err)
		return
	}

	saved, err := s.archive.Save(r.Context(), id, turns)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, map[string]interface{}{
		"archive_id": saved.ID,
		"session_id": id,
		"turns":      saved.TurnCount,
	})
}
