// Package safego provides a panic-recovering goroutine launcher for
// background work.
package safego

import "log/slog"

// Go launches fn in a new goroutine. If fn panics, the panic is recovered and
// logged rather than crashing the process. All fire-and-forget goroutines
// (dispatcher workers, sweeps, delayed queue redelivery) go through this: a
// panicking create task must not take the whole fleet service down, and an
// unrecovered panic would otherwise silently kill the worker forever.
func Go(fn func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				slog.Error("recovered panic in background goroutine", "panic", r)
			}
		}()
		fn()
	}()
}
