//go:build rp2040 || rp2350

package pio

import "errors"

var ErrNoStateMachine = errors.New("no free PIO state machine")

var (
	// PIO allocation tracking
	// RP2040/RP2350 has 2 PIO blocks (PIO0, PIO1) with 4 state machines each
	pioAllocations = [2][4]bool{} // [pioNum][smNum]
	nextPIONum     = uint8(0)
	nextSMNum      = uint8(0)
)

// allocatePIO allocates a PIO state machine
// Returns (pioNum, smNum, ok)
func allocatePIO() (uint8, uint8, bool) {
	// Fill one PIO block before moving to the next so all axes share the
	// program loaded there
	for i := 0; i < 8; i++ { // 2 PIO × 4 SM = 8 total
		pioNum := nextPIONum
		smNum := nextSMNum

		// Advance to next slot
		nextSMNum++
		if nextSMNum >= 4 {
			nextSMNum = 0
			nextPIONum = (nextPIONum + 1) % 2
		}

		// Check if this slot is free
		if !pioAllocations[pioNum][smNum] {
			pioAllocations[pioNum][smNum] = true
			return pioNum, smNum, true
		}
	}

	// All PIO resources exhausted
	return 0, 0, false
}

// GetPIOAllocationStatus returns PIO allocation status for debugging
func GetPIOAllocationStatus() [2][4]bool {
	return pioAllocations
}

// ResetPIOAllocations resets all PIO allocations
func ResetPIOAllocations() {
	pioAllocations = [2][4]bool{}
	nextPIONum = 0
	nextSMNum = 0
}
