package sim

import (
	"stepcore/core"
)

// Prescaler table and counter width of a typical 16-bit MCU timer
var DefaultPrescalers = []uint32{1, 8, 64, 256, 1024}

const (
	DefaultClockHz   = 16000000
	DefaultMaxReload = 0xFFFF
)

type channel struct {
	running  bool
	enabled  bool
	setting  core.TimerSetting
	deadline uint64 // Absolute hardware ticks of the next interrupt
}

// Timer is a virtual narrow-counter timer. Intervals arrive in step-clock
// ticks and are mapped onto prescaler/reload pairs the way a real 16-bit
// timer would need them; the prescaler search runs whenever an interval
// does not fit the current divider.
type Timer struct {
	ClockHz    uint32
	Prescalers []uint32
	MaxReload  uint32

	now      uint64 // Hardware ticks
	channels [core.TimerChannelCount]channel
	late     [core.TimerChannelCount]uint32

	PrescalerChanges int
	Interrupts       uint64
}

// NewTimer creates a timer with the default clock, table and width
func NewTimer() *Timer {
	return &Timer{
		ClockHz:    DefaultClockHz,
		Prescalers: DefaultPrescalers,
		MaxReload:  DefaultMaxReload,
	}
}

// Start configures ch for initialFrequency. The interrupt stays masked.
func (t *Timer) Start(ch core.TimerChannel, initialFrequency uint32) error {
	if ch >= core.TimerChannelCount {
		return core.ErrInvalidChannel
	}
	s, err := core.SearchPrescaler(t.ClockHz, float64(initialFrequency), t.Prescalers, t.MaxReload)
	if err != nil {
		return err
	}
	c := &t.channels[ch]
	c.setting = s
	c.running = true
	c.deadline = t.now + s.Period()
	return nil
}

// Stop halts ch and masks its interrupt
func (t *Timer) Stop(ch core.TimerChannel) {
	if ch >= core.TimerChannelCount {
		return
	}
	t.channels[ch].running = false
	t.channels[ch].enabled = false
}

// SetNextInterval schedules the next interrupt reloadTicks step-clock ticks
// after the last one
func (t *Timer) SetNextInterval(ch core.TimerChannel, reloadTicks uint32) {
	if ch >= core.TimerChannelCount || reloadTicks == 0 {
		return
	}
	c := &t.channels[ch]
	hwTicks := uint64(reloadTicks) * uint64(t.ClockHz) / core.StepTimerFreq
	if hwTicks == 0 {
		hwTicks = 1
	}

	div := uint64(c.setting.Prescaler)
	if div == 0 || hwTicks/div > uint64(t.MaxReload) || hwTicks/div == 0 || hwTicks%div != 0 {
		s, err := core.SearchPrescaler(t.ClockHz, float64(core.StepTimerFreq)/float64(reloadTicks), t.Prescalers, t.MaxReload)
		if err != nil {
			return
		}
		if s.Prescaler != c.setting.Prescaler {
			t.PrescalerChanges++
			core.RecordTiming(core.EvtPrescaler, uint8(ch), core.GetTime(), s.Prescaler, s.Reload)
		}
		c.setting = s
	} else {
		c.setting.Reload = uint32(hwTicks / div)
		c.setting.Achieved = float64(t.ClockHz) / float64(c.setting.Period())
	}
	c.deadline = t.lastFire(ch) + c.setting.Period()
}

// lastFire is the time the current period started
func (t *Timer) lastFire(ch core.TimerChannel) uint64 {
	c := &t.channels[ch]
	if c.deadline > t.now {
		// Reprogrammed from outside the interrupt: count from now
		return t.now
	}
	return c.deadline
}

// EnableInterrupt unmasks ch
func (t *Timer) EnableInterrupt(ch core.TimerChannel) {
	if ch < core.TimerChannelCount {
		t.channels[ch].enabled = true
	}
}

// DisableInterrupt masks ch
func (t *Timer) DisableInterrupt(ch core.TimerChannel) {
	if ch < core.TimerChannelCount {
		t.channels[ch].enabled = false
	}
}

// Lateness reports injected lateness once, in step-clock ticks
func (t *Timer) Lateness(ch core.TimerChannel) uint32 {
	if ch >= core.TimerChannelCount {
		return 0
	}
	l := t.late[ch]
	t.late[ch] = 0
	return l
}

// InjectLateness makes the next Lateness query for ch report ticks
func (t *Timer) InjectLateness(ch core.TimerChannel, ticks uint32) {
	t.late[ch] = ticks
}

// Setting returns the prescaler/reload pair currently programmed on ch
func (t *Timer) Setting(ch core.TimerChannel) core.TimerSetting {
	return t.channels[ch].setting
}

// Running reports whether ch is counting with its interrupt enabled
func (t *Timer) Running(ch core.TimerChannel) bool {
	c := t.channels[ch]
	return c.running && c.enabled
}

// Now returns the virtual time in hardware ticks
func (t *Timer) Now() uint64 {
	return t.now
}

// Seconds returns the virtual time in seconds
func (t *Timer) Seconds() float64 {
	return float64(t.now) / float64(t.ClockHz)
}

// Fire advances time to the next interrupt of ch and dispatches it. The
// channel is periodic: unless the callback reprograms it, the next
// interrupt follows after the same period.
func (t *Timer) Fire(ch core.TimerChannel) bool {
	c := &t.channels[ch]
	if !c.running || !c.enabled {
		return false
	}
	t.now = c.deadline
	core.SetTime(uint32(t.now * core.TimerFreq / uint64(t.ClockHz)))
	next := c.deadline + c.setting.Period()
	core.DispatchTimer(ch)
	t.Interrupts++
	if c.deadline == t.now {
		// Not reprogrammed by the callback
		c.deadline = next
	}
	return true
}

// RunUntil fires the step channel until done returns true or limit
// interrupts have run. It returns false when the limit was hit or the
// timer stopped.
func (t *Timer) RunUntil(done func() bool, limit int) bool {
	for i := 0; i < limit; i++ {
		if done() {
			return true
		}
		if !t.Fire(core.TimerStep) {
			return done()
		}
	}
	return done()
}
