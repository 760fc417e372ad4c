//go:build tinygo

package core

import "runtime/interrupt"

// State is the saved interrupt state
type State = interrupt.State

// DisableInterrupts disables interrupts and returns the previous state
func DisableInterrupts() State {
	return interrupt.Disable()
}

// RestoreInterrupts restores the interrupt state
func RestoreInterrupts(state State) {
	interrupt.Restore(state)
}

// InCriticalSection is always false on hardware; the interrupt controller
// owns that state.
func InCriticalSection() bool {
	return false
}
