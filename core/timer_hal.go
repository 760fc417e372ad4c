package core

import "errors"

// TimerChannel identifies a logical hardware timer
type TimerChannel uint8

const (
	TimerStep        TimerChannel = iota // Step pulse interrupt
	TimerTemperature                     // Temperature sampling interrupt
	TimerChannelCount
)

var ErrInvalidChannel = errors.New("invalid timer channel")

// TimerDriver is the abstract periodic-timer interface used by the motion
// core. One implementation exists per target; core code never touches
// timer registers directly.
type TimerDriver interface {
	// Start configures the channel for initialFrequency and starts counting.
	// The channel's interrupt stays masked until EnableInterrupt.
	Start(ch TimerChannel, initialFrequency uint32) error

	// Stop halts the channel and masks its interrupt
	Stop(ch TimerChannel)

	// SetNextInterval programs the next interrupt reloadTicks base-clock
	// ticks after the current one. Implementations with narrow counters
	// re-run SearchPrescaler when the interval does not fit.
	SetNextInterval(ch TimerChannel, reloadTicks uint32)

	EnableInterrupt(ch TimerChannel)
	DisableInterrupt(ch TimerChannel)
}

// LatencyReporter is implemented by timers that can measure how late the
// current interrupt was serviced, in base-clock ticks.
type LatencyReporter interface {
	Lateness(ch TimerChannel) uint32
}

var (
	timerDriver    TimerDriver
	timerCallbacks [TimerChannelCount]func()
)

// SetTimerDriver is called by target-specific code to register its driver.
func SetTimerDriver(d TimerDriver) {
	timerDriver = d
}

// MustTimer returns the configured driver or panics if missing.
func MustTimer() TimerDriver {
	if timerDriver == nil {
		panic("timer driver not configured")
	}
	return timerDriver
}

// RegisterTimerCallback installs the single interrupt callback for ch.
// A nil fn clears the slot.
func RegisterTimerCallback(ch TimerChannel, fn func()) error {
	if ch >= TimerChannelCount {
		return ErrInvalidChannel
	}
	state := DisableInterrupts()
	timerCallbacks[ch] = fn
	RestoreInterrupts(state)
	return nil
}

// DispatchTimer is called from the platform interrupt vector for ch
func DispatchTimer(ch TimerChannel) {
	if ch >= TimerChannelCount {
		return
	}
	if cb := timerCallbacks[ch]; cb != nil {
		cb()
	}
}
