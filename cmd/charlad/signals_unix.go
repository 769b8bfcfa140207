//go:build !windows

package main

import (
	"context"
	"os"
	"syscall"
	"time"
)

// getShutdownSignals returns the signals the daemon listens for on Unix.
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP, syscall.SIGUSR1}
}

// handlePlatformSignal services Unix maintenance signals. It returns true
// when the signal was handled and the daemon should keep running.
func handlePlatformSignal(sig os.Signal, app *App) bool {
	switch sig {
	case syscall.SIGHUP:
		// Re-discover the tool catalog without a restart
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		tools, err := app.Gateway.Refresh(ctx)
		if err != nil {
			app.Logger.Warn("tool catalog refresh failed", "error", err)
		} else {
			app.toolCount = len(tools)
			app.Logger.Info("tool catalog refreshed", "count", len(tools))
		}
		return true
	case syscall.SIGUSR1:
		removed := app.Store.Sweep(app.Config.SessionTTL())
		app.Logger.Info("manual session sweep complete", "removed", removed)
		return true
	}
	return false
}
