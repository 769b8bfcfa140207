// Command charla-tui starts the interactive terminal client for a
// running charla daemon.
//
// Usage:
//
//	charla-tui --server http://localhost:8400
//
// The client opens a session on boot, streams the session's turn events
// into the sidebar while queries run, and deletes the session on exit.
// Works over SSH, tmux and screen; no GUI needed.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/charla-ai/charla/internal/tui"
)

func main() {
	server := flag.String("server", "http://localhost:8400", "charla API URL")
	flag.Parse()

	// Set up logging to file (stdout is owned by the TUI)
	logFile, err := os.OpenFile("charla-tui.log", os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening log file: %v\n", err)
		os.Exit(1)
	}
	defer logFile.Close() //nolint:errcheck

	logger := slog.New(slog.NewJSONHandler(logFile, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	client := tui.NewClient(*server)
	if err := tui.Run(client, logger); err != nil {
		fmt.Fprintf(os.Stderr, "error running TUI: %v\n", err)
		os.Exit(1)
	}
}
