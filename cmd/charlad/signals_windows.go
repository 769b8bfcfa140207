//go:build windows

package main

import (
	"os"
	"syscall"
)

// getShutdownSignals returns the signals the daemon listens for on Windows.
func getShutdownSignals() []os.Signal {
	return []os.Signal{os.Interrupt, syscall.SIGTERM}
}

// handlePlatformSignal is a no-op on Windows; every signal shuts the daemon down.
func handlePlatformSignal(_ os.Signal, _ *App) bool {
	return false
}
