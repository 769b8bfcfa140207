package api

import (
	"net/http"
	"strconv"
	"strings"
)

// handleArchiveList returns recent archived transcripts
func (s *Server) handleArchiveList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	transcripts, err := s.archive.List(r.Context(), queryInt(r, "limit", 20))
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, map[string]interface{}{
		"count":       len(transcripts),
		"transcripts": transcripts,
	})
}

// handleArchiveDetail dispatches /archive/{id} and /archive/search.
func (s *Server) handleArchiveDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/archive/")
	if rest == "search" {
		s.handleArchiveSearch(w, r)
		return
	}

	id, err := strconv.ParseInt(rest, 10, 64)
	if err != nil {
		http.Error(w, "transcript id must be numeric", http.StatusBadRequest)
		return
	}

	transcript, err := s.archive.Get(r.Context(), id)
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, transcript)
}

// handleArchiveSearch runs full-text search over archived transcripts.
// The query string is FTS5 syntax; engine parse errors map to 400.
func (s *Server) handleArchiveSearch(w http.ResponseWriter, r *http.Request) {
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		http.Error(w, "q parameter required", http.StatusBadRequest)
		return
	}

	hits, err := s.archive.Search(r.Context(), q, queryInt(r, "limit", 10))
	if err != nil {
		http.Error(w, "search failed: "+err.Error(), http.StatusBadRequest)
		return
	}
	s.respondJSON(w, map[string]interface{}{
		"query": q,
		"count": len(hits),
		"hits":  hits,
	})
}

// queryInt reads a positive integer query parameter, falling back to def.
func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
