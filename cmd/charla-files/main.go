package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/charla-ai/charla/internal/fileserver"
)

var (
	version   = "0.1.0"
	buildTime = "dev"
)

func main() {
	os.Exit(run())
}

func run() int {
	fs := flag.NewFlagSet("charla-files", flag.ExitOnError)
	port := fs.Int("port", 8401, "Port for the streamable HTTP endpoint")
	root := fs.String("root", "./data/files", "Directory holding one subdirectory per user")
	latency := fs.Duration("latency", 2*time.Second, "Artificial per-call delay")
	stdio := fs.Bool("stdio", false, "Serve over stdio instead of HTTP")
	logLevel := fs.String("log-level", "info", "Log level (debug, info, warn, error)")
	showVersion := fs.Bool("version", false, "Show version")
	if err := fs.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "parse arguments: %v\n", err)
		return 1
	}

	if *showVersion {
		fmt.Printf("charla-files v%s (built %s)\n", version, buildTime)
		return 0
	}

	// Logs go to stderr so stdio transport keeps stdout for the protocol
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: parseLogLevel(*logLevel),
	}))

	if err := os.MkdirAll(*root, 0o750); err != nil {
		logger.Error("create root directory", "error", err)
		return 1
	}

	srv, err := fileserver.New(*root, *latency, logger)
	if err != nil {
		logger.Error("create file server", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *stdio {
		err = srv.ServeStdio(ctx)
	} else {
		err = srv.Serve(ctx, *port)
	}
	if err != nil {
		logger.Error("serve", "error", err)
		return 1
	}
	return 0
}

// parseLogLevel converts string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
