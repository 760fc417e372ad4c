package stepgen

import "sync/atomic"

// Fault is the latched reason for an emergency stop
type Fault uint32

const (
	FaultNone          Fault = iota
	FaultIntervalFloor       // Requested interval below the servicing floor
	FaultLateInterrupt       // Interrupt serviced later than allowed
	FaultExternal            // Stop requested by the background context
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return ""
	case FaultIntervalFloor:
		return "step interval below interrupt servicing floor"
	case FaultLateInterrupt:
		return "step interrupt serviced late"
	case FaultExternal:
		return "emergency stop requested"
	default:
		return "unknown fault"
	}
}

// StallDetector decides whether the step interrupt can still meet its
// deadlines
type StallDetector struct {
	minInterval uint32 // Shortest interval the interrupt can service
	maxLate     uint32 // Largest tolerated lateness; zero disables the check

	trips atomic.Uint32
}

// NewStallDetector creates a detector for the given limits (step-timer ticks)
func NewStallDetector(minInterval, maxLate uint32) *StallDetector {
	return &StallDetector{minInterval: minInterval, maxLate: maxLate}
}

// CheckInterval reports whether ticks can be serviced
func (s *StallDetector) CheckInterval(ticks uint32) bool {
	if ticks < s.minInterval {
		s.trips.Add(1)
		return false
	}
	return true
}

// CheckLateness reports whether the current interrupt ran on time
func (s *StallDetector) CheckLateness(late uint32) bool {
	if s.maxLate != 0 && late > s.maxLate {
		s.trips.Add(1)
		return false
	}
	return true
}

// MinInterval returns the servicing floor
func (s *StallDetector) MinInterval() uint32 {
	return s.minInterval
}

// Trips returns how many deadline misses were detected
func (s *StallDetector) Trips() uint32 {
	return s.trips.Load()
}
