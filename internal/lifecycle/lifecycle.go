// Package lifecycle tracks whether the process, or one component, is shutting down.
package lifecycle

import "sync/atomic"

// Flag marks a component as shutting down. The zero value is not set.
// Safe for concurrent use.
type Flag struct {
	v atomic.Bool
}

// Set marks the flag. It reports whether this call was the one that set it.
func (f *Flag) Set() bool {
	return f.v.CompareAndSwap(false, true)
}

// IsSet reports whether Set has been called.
func (f *Flag) IsSet() bool {
	return f.v.Load()
}

var process Flag

// SetShuttingDown sets the process shutdown flag. Call when SIGTERM/SIGINT received.
// Health handler returns 503 with status shutting-down while true.
func SetShuttingDown(v bool) {
	process.v.Store(v)
}

// IsShuttingDown returns true if the process is draining.
func IsShuttingDown() bool {
	return process.IsSet()
}
