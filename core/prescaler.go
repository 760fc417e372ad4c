package core

import "errors"

var (
	ErrNoPrescaler      = errors.New("empty prescaler table")
	ErrInvalidFrequency = errors.New("invalid timer frequency")
)

// TimerSetting is a prescaler/reload pair for a counter clocked at clockHz
type TimerSetting struct {
	Prescaler uint32  // Clock divider
	Reload    uint32  // Counter top (ticks per period after division)
	Achieved  float64 // Resulting interrupt frequency (Hz)
	Index     int     // Position of Prescaler in the table
}

// Period returns the setting's period in undivided clock ticks
func (s TimerSetting) Period() uint64 {
	return uint64(s.Prescaler) * uint64(s.Reload)
}

// SearchPrescaler picks the prescaler/reload pair whose achievable frequency
// is closest to desiredHz. Ties keep the earliest table entry, so callers
// control preference by table order. Reload is limited to [1, maxReload].
func SearchPrescaler(clockHz uint32, desiredHz float64, table []uint32, maxReload uint32) (TimerSetting, error) {
	if len(table) == 0 {
		return TimerSetting{}, ErrNoPrescaler
	}
	if desiredHz <= 0 || clockHz == 0 || maxReload == 0 {
		return TimerSetting{}, ErrInvalidFrequency
	}

	best := TimerSetting{Index: -1}
	bestErr := 0.0
	for i, div := range table {
		if div == 0 {
			continue
		}
		counterHz := float64(clockHz) / float64(div)
		reload := counterHz/desiredHz + 0.5
		if reload < 1 {
			reload = 1
		}
		if reload > float64(maxReload) {
			reload = float64(maxReload)
		}
		r := uint32(reload)
		achieved := counterHz / float64(r)
		diff := achieved - desiredHz
		if diff < 0 {
			diff = -diff
		}
		if best.Index < 0 || diff < bestErr {
			best = TimerSetting{Prescaler: div, Reload: r, Achieved: achieved, Index: i}
			bestErr = diff
		}
	}
	if best.Index < 0 {
		return TimerSetting{}, ErrNoPrescaler
	}
	return best, nil
}

// CounterSpan is the number of counts between wraps of a 16-bit up-counter
// with its top fixed at 0xFFFF
const CounterSpan = 1 << 16

// CounterReload schedules the next wrap of a free-running 16-bit up-counter
// hwTicks undivided clocks after the previous one. The counter runs at
// divider div and elapsed counts have already passed since that wrap. It
// returns the counter value to write and the clocks still owed after the
// wrap when the period does not fit one span. Long periods are split evenly
// so no piece is shorter than half a span.
func CounterReload(hwTicks uint64, div, elapsed uint32) (ctr uint32, pending uint64) {
	if div == 0 {
		div = 1
	}
	counts := hwTicks / uint64(div)
	if counts == 0 {
		counts = 1
	}
	if counts > CounterSpan {
		pieces := (counts + CounterSpan - 1) / CounterSpan
		counts /= pieces
		pending = hwTicks - counts*uint64(div)
	}
	if counts <= uint64(elapsed) {
		// Already overdue, wrap on the next count
		return CounterSpan - 1, pending
	}
	return uint32(CounterSpan - counts + uint64(elapsed)), pending
}
