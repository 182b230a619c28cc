//go:build windows

package main

import (
	"os"
	"syscall"
)

// getShutdownSignals returns the signals to listen for on Windows
func getShutdownSignals() []os.Signal {
	return []os.Signal{syscall.SIGINT, syscall.SIGTERM}
}

// handlePlatformSignal never continues on Windows; the config watcher
// covers reloads.
func handlePlatformSignal(os.Signal, *App) bool {
	return false
}
