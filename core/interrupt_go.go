//go:build !tinygo

package core

import "sync/atomic"

// State is the saved interrupt state on regular Go
type State uintptr

// criticalDepth counts nested critical sections so tests can assert that
// none is left open.
var criticalDepth atomic.Int32

// DisableInterrupts enters a critical section. Host builds have no interrupt
// controller; the simulated step interrupt is serviced from the same
// goroutine as the background loop, so only the nesting depth is tracked.
func DisableInterrupts() State {
	return State(criticalDepth.Add(1) - 1)
}

// RestoreInterrupts leaves a critical section
func RestoreInterrupts(state State) {
	criticalDepth.Store(int32(state))
}

// InCriticalSection reports whether a critical section is open
func InCriticalSection() bool {
	return criticalDepth.Load() > 0
}
