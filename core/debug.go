package core

import "sync/atomic"

// DebugWriter is a function type for writing debug messages
type DebugWriter func(string)

// TimingEvent captures a timing-critical event for post-mortem analysis
type TimingEvent struct {
	EventType uint8  // Event type code
	Slot      uint8  // Ring-buffer slot of the block involved
	Clock     uint32 // System clock at event
	Value1    uint32 // Context-dependent value
	Value2    uint32 // Context-dependent value
}

// Event type codes
const (
	EvtBlockQueued   = 1 // Planner published a block
	EvtBlockLoaded   = 2 // Step interrupt started a block
	EvtBlockDone     = 3 // Step interrupt finished a block
	EvtIdleTick      = 4 // No block ready
	EvtPrescaler     = 5 // Timer prescaler changed
	EvtStall         = 6 // Deadline miss detected
	EvtAbort         = 7 // Queue discarded
	EvtBlockDeferred = 8 // Tail block held back while being recalculated
	EvtEmergencyStop = 9 // Motor outputs disabled
)

const (
	TimingRingSize = 32 // Keep last 32 events for post-mortem
)

var (
	// debugPrintln is the global debug print function (can be set by platform code)
	debugPrintln DebugWriter = func(s string) {} // No-op by default

	// debugEnabled controls whether debug output is active
	debugEnabled bool = false

	// Timing capture ring buffer (non-blocking, for post-mortem)
	timingRing     [TimingRingSize]TimingEvent
	timingRingHead uint8
	timingEnabled  bool = true

	totalSteps atomic.Uint64
)

// SetDebugWriter sets the platform-specific debug output function
func SetDebugWriter(writer DebugWriter) {
	debugPrintln = writer
}

// SetDebugEnabled enables or disables debug output
func SetDebugEnabled(enabled bool) {
	debugEnabled = enabled
}

// IsDebugEnabled returns whether debug output is enabled
func IsDebugEnabled() bool {
	return debugEnabled
}

// SetTimingEnabled turns the timing ring on or off
func SetTimingEnabled(enabled bool) {
	timingEnabled = enabled
}

// DebugPrintln writes a debug message using the platform-specific writer
func DebugPrintln(msg string) {
	if debugEnabled && debugPrintln != nil {
		debugPrintln(msg)
	}
}

// CountSteps adds n step events to the global counter. Interrupt safe.
func CountSteps(n uint32) {
	totalSteps.Add(uint64(n))
}

// GetTotalStepCount returns the number of step events since boot
func GetTotalStepCount() uint64 {
	return totalSteps.Load()
}

// RecordTiming captures a timing event in the ring buffer.
// Never allocates; safe from interrupt context.
func RecordTiming(eventType, slot uint8, clock, value1, value2 uint32) {
	if !timingEnabled {
		return
	}
	idx := timingRingHead
	timingRing[idx] = TimingEvent{
		EventType: eventType,
		Slot:      slot,
		Clock:     clock,
		Value1:    value1,
		Value2:    value2,
	}
	timingRingHead = (idx + 1) % TimingRingSize
}

// TimingEvents returns the recorded events from oldest to newest
func TimingEvents() []TimingEvent {
	out := make([]TimingEvent, 0, TimingRingSize)
	start := timingRingHead
	for i := uint8(0); i < TimingRingSize; i++ {
		evt := timingRing[(start+i)%TimingRingSize]
		if evt.EventType == 0 {
			continue
		}
		out = append(out, evt)
	}
	return out
}

func eventName(code uint8) string {
	switch code {
	case EvtBlockQueued:
		return "BLOCK_QUEUED"
	case EvtBlockLoaded:
		return "BLOCK_LOADED"
	case EvtBlockDone:
		return "BLOCK_DONE"
	case EvtIdleTick:
		return "IDLE"
	case EvtPrescaler:
		return "PRESCALER"
	case EvtStall:
		return "STALL!"
	case EvtAbort:
		return "ABORT"
	case EvtBlockDeferred:
		return "DEFERRED"
	case EvtEmergencyStop:
		return "ESTOP!"
	default:
		return "UNKNOWN"
	}
}

// DumpTimingRing outputs the timing ring buffer (call on shutdown/error)
func DumpTimingRing() {
	if debugPrintln == nil {
		return
	}

	debugPrintln("[TIMING] === Timing Ring Dump ===")
	debugPrintln("[TIMING] Total steps executed: " + utoa64(GetTotalStepCount()))

	for _, evt := range TimingEvents() {
		debugPrintln("[TIMING] " + eventName(evt.EventType) +
			" slot=" + itoa(int(evt.Slot)) +
			" clock=" + utoa(evt.Clock) +
			" v1=" + utoa(evt.Value1) +
			" v2=" + utoa(evt.Value2))
	}
	debugPrintln("[TIMING] === End Dump ===")
}

// ClearTimingRing clears the timing buffer
func ClearTimingRing() {
	for i := range timingRing {
		timingRing[i] = TimingEvent{}
	}
	timingRingHead = 0
}
