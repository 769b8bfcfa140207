// Package fileserver implements the demo MCP tool server the
// conversation loop talks to: two Spanish-named file tools backed by a
// local directory tree, served over streamable HTTP or stdio.
package fileserver

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

const serverName = "charla-files"

// Server exposes the file tools over MCP. The root directory stands in
// for /home: each immediate subdirectory is one user's home.
type Server struct {
	root    string
	latency time.Duration
	logger  *slog.Logger
	mcp     *mcp.Server
}

// New validates the root directory and registers the tools.
func New(root string, latency time.Duration, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = slog.Default()
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("root %q is not a directory", root)
	}

	s := &Server{
		root:    abs,
		latency: latency,
		logger:  logger.With("component", "fileserver"),
	}

	srv := mcp.NewServer(&mcp.Implementation{Name: serverName, Version: "0.1.0"}, nil)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "recuperar_directorios_principales",
		Description: "Herramienta que permite recuperar los directorios principales de un usuario",
	}, s.handleDirectorios)
	mcp.AddTool(srv, &mcp.Tool{
		Name:        "recuperar_archivos_directorio",
		Description: "Herramienta que permite recuperar los distintos archivos de un directorio dado",
	}, s.handleArchivos)
	s.mcp = srv
	return s, nil
}

// Serve runs the streamable HTTP transport on the given port until ctx
// is cancelled.
func (s *Server) Serve(ctx context.Context, port int) error {
	handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return s.mcp }, nil)
	mux := http.NewServeMux()
	mux.Handle("/mcp", handler)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("file tool server listening", "port", port, "root", s.root)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down file tool server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// ServeStdio speaks MCP over stdin and stdout until the peer hangs up.
func (s *Server) ServeStdio(ctx context.Context) error {
	s.logger.Info("file tool server on stdio", "root", s.root)
	session, err := s.mcp.Connect(ctx, &mcp.StdioTransport{}, nil)
	if err != nil {
		return fmt.Errorf("stdio connect: %w", err)
	}
	return session.Wait()
}

// delay injects the configured artificial latency, honoring cancellation.
func (s *Server) delay(ctx context.Context) error {
	if s.latency <= 0 {
		return nil
	}
	select {
	case <-time.After(s.latency):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// underRoot reports whether abs lives inside the served root.
func (s *Server) underRoot(abs string) bool {
	return abs == s.root || strings.HasPrefix(abs, s.root+string(filepath.Separator))
}
