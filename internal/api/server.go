// Package api exposes the session and tool-calling service over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/charla-ai/charla/internal/archive"
	"github.com/charla-ai/charla/internal/gateway"
	"github.com/charla-ai/charla/internal/interfaces"
	"github.com/charla-ai/charla/internal/orchestrator"
	"github.com/charla-ai/charla/internal/session"
)

const version = "0.1.0"

const defaultSessionTTL = 60 * time.Minute

// Server is the HTTP API server
type Server struct {
	port       int
	store      *session.Store
	loop       *orchestrator.Loop
	gateway    interfaces.ToolGateway
	provider   interfaces.Provider
	archive    *archive.Archive
	hub        *orchestrator.Hub
	logger     *slog.Logger
	httpServer *http.Server
	started    time.Time
	sessionTTL time.Duration
}

// Option configures optional server behavior.
type Option func(*Server)

// WithSessionTTL sets the idle lifetime used when /session/new sweeps
// expired sessions at the cap.
func WithSessionTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.sessionTTL = d
		}
	}
}

// NewServer creates a new API server
func NewServer(
	port int,
	store *session.Store,
	loop *orchestrator.Loop,
	gw interfaces.ToolGateway,
	provider interfaces.Provider,
	arc *archive.Archive,
	hub *orchestrator.Hub,
	logger *slog.Logger,
	opts ...Option,
) *Server {
	s := &Server{
		port:       port,
		store:      store,
		loop:       loop,
		gateway:    gw,
		provider:   provider,
		archive:    arc,
		hub:        hub,
		logger:     logger.With("component", "api"),
		started:    time.Now(),
		sessionTTL: defaultSessionTTL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// routes builds the request mux.
func (s *Server) routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.handleRoot)
	mux.HandleFunc("/health", s.handleHealth)

	mux.HandleFunc("/session/new", s.handleSessionNew)
	mux.HandleFunc("/sessions", s.handleSessions)
	mux.HandleFunc("/session/", s.handleSessionDetail)

	mux.HandleFunc("/tools", s.handleTools)
	mux.HandleFunc("/tools/refresh", s.handleToolsRefresh)

	mux.HandleFunc("/archive", s.handleArchiveList)
	mux.HandleFunc("/archive/", s.handleArchiveDetail)

	mux.HandleFunc("/ws/session/", s.handleSessionWS)

	return mux
}

// Start starts the HTTP server and blocks until ctx is cancelled or the
// listener fails.
func (s *Server) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.corsMiddleware(s.loggingMiddleware(s.routes())),
		// Queries and event streams can outlive any fixed write deadline.
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	s.logger.Info("API server starting", "port", s.port)

	// Run server in goroutine
	errCh := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for shutdown or error
	select {
	case <-ctx.Done():
		s.logger.Info("shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
		)
	})
}

// corsMiddleware adds CORS headers
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleRoot returns the service banner
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	s.respondJSON(w, map[string]interface{}{
		"service": "charla",
		"version": version,
	})
}

// handleHealth reports provider, gateway and session health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ok"
	providerHealth := "ok"
	if err := s.provider.HealthCheck(ctx); err != nil {
		providerHealth = err.Error()
		status = "degraded"
	}

	gatewayHealth := "ok"
	toolCount := 0
	if descriptors, err := s.gateway.Discover(ctx); err != nil {
		gatewayHealth = err.Error()
		status = "degraded"
	} else {
		toolCount = len(descriptors)
	}

	s.respondJSON(w, map[string]interface{}{
		"status":          status,
		"version":         version,
		"provider":        s.provider.Name(),
		"provider_health": providerHealth,
		"gateway":         gatewayHealth,
		"tools":           toolCount,
		"sessions":        s.store.Len(),
		"uptime":          time.Since(s.started).Round(time.Second).String(),
	})
}

// handleTools lists the adapted declarations currently presented to the model
func (s *Server) handleTools(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tools, err := s.loop.Declarations(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}
	s.respondJSON(w, map[string]interface{}{
		"count": len(tools),
		"tools": tools,
	})
}

// handleToolsRefresh forces a new gateway discovery
func (s *Server) handleToolsRefresh(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if _, err := s.gateway.Refresh(r.Context()); err != nil {
		s.respondError(w, err)
		return
	}
	tools, err := s.loop.Declarations(r.Context())
	if err != nil {
		s.respondError(w, err)
		return
	}

	s.logger.Info("tool catalog refreshed", "count", len(tools))
	s.respondJSON(w, map[string]interface{}{
		"count": len(tools),
		"tools": tools,
	})
}

// respondJSON writes a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON", "error", err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// respondError maps a domain error onto an HTTP status with a JSON body.
func (s *Server) respondError(w http.ResponseWriter, err error) {
	status := httpStatus(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "status", status, "error", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// httpStatus classifies domain errors: unknown ids 404, contended sessions
// 409, the session cap 503, unreachable upstreams 502.
func httpStatus(err error) int {
	switch {
	case errors.Is(err, session.ErrNotFound), errors.Is(err, archive.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	case errors.Is(err, session.ErrLimit):
		return http.StatusServiceUnavailable
	case errors.Is(err, orchestrator.ErrModelUnavailable), gateway.IsUnavailable(err):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
