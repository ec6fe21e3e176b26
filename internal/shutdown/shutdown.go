// Package shutdown adapts utils/signals.go's quit-channel helper: proclabd
// uses this instead of hand-rolling its own signal.Notify call.
package shutdown

import (
	"os"
	"os/signal"
	"syscall"
)

// Channel registers and returns a channel notified on SIGHUP, SIGINT,
// SIGQUIT, or SIGTERM — the signals a running kernel instance should shut
// down cleanly on.
func Channel() chan os.Signal {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGHUP, syscall.SIGINT, syscall.SIGQUIT, syscall.SIGTERM)
	return quit
}
