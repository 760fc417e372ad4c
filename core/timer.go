package core

import "math"

// Timer frequencies for common MCUs
const (
	TimerFreq = 12000000 // 12MHz soft-timer clock

	// StepTimerFreq is the base clock of the step channel. Reload values
	// handed to TimerDriver.SetNextInterval are in these ticks.
	StepTimerFreq = 2000000
)

var systemTicks uint32

// GetTime returns the current system time in timer ticks
func GetTime() uint32 {
	return getSystemTicks()
}

// SetTime sets the current system time (for testing/hardware integration)
func SetTime(ticks uint32) {
	setSystemTicks(ticks)
}

// AdvanceTime moves the system clock forward by ticks
func AdvanceTime(ticks uint32) {
	setSystemTicks(getSystemTicks() + ticks)
}

// TimerFromUS converts microseconds to timer ticks
func TimerFromUS(us uint32) uint32 {
	return uint32((uint64(us) * TimerFreq) / 1000000)
}

// TimerToUS converts timer ticks to microseconds
func TimerToUS(ticks uint32) uint32 {
	return uint32((uint64(ticks) * 1000000) / TimerFreq)
}

// StepTicksFromRate converts a step rate (steps/s) into step-channel ticks,
// rounding up so the timer never runs faster than rate. Quotients within
// rounding noise of an integer are not pushed to the next tick.
// A zero rate maps to the largest representable interval.
func StepTicksFromRate(rate float64) uint32 {
	if rate <= 0 {
		return ^uint32(0)
	}
	ticks := math.Ceil(float64(StepTimerFreq)/rate - 1e-6)
	if ticks >= float64(^uint32(0)) {
		return ^uint32(0)
	}
	return uint32(ticks)
}

// ProcessTimers processes scheduled timers
func ProcessTimers() {
	currentTime = GetTime()
	TimerDispatch()
}
