//go:build rp2040

package main

import (
	"device/rp"
	"machine"
	"runtime/interrupt"
	"runtime/volatile"
	"unsafe"

	"stepcore/core"
)

// PWM slice 7 runs as a bare counter for the step timer; its pins stay on
// the I2C1 function. TOP and DIV are double buffered and only latch at a
// wrap, so TOP stays fixed at 0xFFFF and each period is set by writing CTR,
// which takes effect at once. A DIV change reaches the period after the
// one being programmed.
const stepSlice = 7

var pwmPrescalers = []uint32{1, 2, 4, 8, 16, 32, 64, 128, 255}

const (
	pwmMaxReload = core.CounterSpan
	csrEnable    = 1 << 0
	divIntShift  = 4
)

// pwmSlice mirrors the per-slice register block (CSR, DIV, CTR, CC, TOP)
type pwmSlice struct {
	CSR volatile.Register32
	DIV volatile.Register32
	CTR volatile.Register32
	CC  volatile.Register32
	TOP volatile.Register32
}

func sliceRegs(n uintptr) *pwmSlice {
	return (*pwmSlice)(unsafe.Pointer(uintptr(unsafe.Pointer(&rp.PWM.CH0_CSR)) + n*0x14))
}

// PWMStepTimer implements core.TimerDriver and core.LatencyReporter on a
// PWM slice. Only the step channel is backed by hardware.
type PWMStepTimer struct {
	regs    *pwmSlice
	clockHz uint32
	setting core.TimerSetting // Last divider written to DIV
	liveDiv uint32            // Divider latched at the last wrap
	pending uint64            // Clocks left of a period longer than one span
	inIRQ   bool
	late    volatile.Register32 // step ticks
	running bool
}

var stepTimer *PWMStepTimer

// NewPWMStepTimer claims the step slice and installs its wrap interrupt
func NewPWMStepTimer() *PWMStepTimer {
	t := &PWMStepTimer{
		regs:    sliceRegs(stepSlice),
		clockHz: machine.CPUFrequency(),
	}
	stepTimer = t
	intr := interrupt.New(rp.IRQ_PWM_IRQ_WRAP, handleStepWrap)
	intr.SetPriority(0x00)
	intr.Enable()
	return t
}

func handleStepWrap(interrupt.Interrupt) {
	t := stepTimer
	rp.PWM.INTR.Set(1 << stepSlice)
	t.liveDiv = t.setting.Prescaler
	t.inIRQ = true
	if t.pending >= uint64(t.liveDiv) {
		// Middle of a long period, nothing to dispatch yet
		t.arm(t.pending)
		t.inIRQ = false
		return
	}
	t.pending = 0
	// CTR counts up from zero at the wrap, so it is the entry latency
	ctr := uint64(t.regs.CTR.Get())
	t.late.Set(uint32(ctr * uint64(t.liveDiv) * core.StepTimerFreq / uint64(t.clockHz)))
	core.DispatchTimer(core.TimerStep)
	t.inIRQ = false
}

// arm schedules the next wrap hwTicks clocks after the last one. Outside the
// wrap handler the period starts now.
func (t *PWMStepTimer) arm(hwTicks uint64) {
	var elapsed uint32
	if t.inIRQ {
		elapsed = t.regs.CTR.Get()
	}
	ctr, pending := core.CounterReload(hwTicks, t.liveDiv, elapsed)
	t.regs.CTR.Set(ctr)
	t.pending = pending
}

// Start configures ch for initialFrequency. The interrupt stays masked.
func (t *PWMStepTimer) Start(ch core.TimerChannel, initialFrequency uint32) error {
	if ch != core.TimerStep {
		return core.ErrInvalidChannel
	}
	s, err := core.SearchPrescaler(t.clockHz, float64(initialFrequency), pwmPrescalers, pwmMaxReload)
	if err != nil {
		return err
	}
	// A disabled slice takes DIV and TOP immediately
	t.regs.CSR.Set(0)
	t.regs.DIV.Set(s.Prescaler << divIntShift)
	t.regs.TOP.Set(pwmMaxReload - 1)
	t.setting = s
	t.liveDiv = s.Prescaler
	t.inIRQ = false
	t.arm(s.Period())
	t.regs.CSR.Set(csrEnable)
	t.running = true
	return nil
}

// Stop halts the slice and masks its interrupt
func (t *PWMStepTimer) Stop(ch core.TimerChannel) {
	if ch != core.TimerStep {
		return
	}
	t.DisableInterrupt(ch)
	t.regs.CSR.Set(0)
	t.pending = 0
	t.running = false
}

// SetNextInterval converts reloadTicks to PWM clocks and arms the counter
// with the divider that is live now. The divider is searched again only when
// the interval no longer fits it or a finer one would do.
func (t *PWMStepTimer) SetNextInterval(ch core.TimerChannel, reloadTicks uint32) {
	if ch != core.TimerStep || reloadTicks == 0 {
		return
	}
	hwTicks := uint64(reloadTicks) * uint64(t.clockHz) / core.StepTimerFreq
	if hwTicks == 0 {
		hwTicks = 1
	}
	t.arm(hwTicks)

	i := t.setting.Index
	fits := hwTicks <= uint64(pwmMaxReload)*uint64(pwmPrescalers[i])
	finer := i > 0 && hwTicks <= uint64(pwmMaxReload)*uint64(pwmPrescalers[i-1])
	if fits && !finer {
		t.setting.Reload = uint32(hwTicks / uint64(t.setting.Prescaler))
		return
	}
	s, err := core.SearchPrescaler(t.clockHz, float64(core.StepTimerFreq)/float64(reloadTicks), pwmPrescalers, pwmMaxReload)
	if err != nil {
		return
	}
	if s.Prescaler != t.setting.Prescaler {
		core.RecordTiming(core.EvtPrescaler, uint8(ch), core.GetTime(), s.Prescaler, s.Reload)
		t.regs.DIV.Set(s.Prescaler << divIntShift)
	}
	t.setting = s
}

// EnableInterrupt unmasks the wrap interrupt of the step slice
func (t *PWMStepTimer) EnableInterrupt(ch core.TimerChannel) {
	if ch != core.TimerStep {
		return
	}
	rp.PWM.INTR.Set(1 << stepSlice)
	rp.PWM.INTE.SetBits(1 << stepSlice)
}

// DisableInterrupt masks the wrap interrupt of the step slice
func (t *PWMStepTimer) DisableInterrupt(ch core.TimerChannel) {
	if ch != core.TimerStep {
		return
	}
	rp.PWM.INTE.ClearBits(1 << stepSlice)
}

// Lateness returns the entry latency of the last step interrupt
func (t *PWMStepTimer) Lateness(ch core.TimerChannel) uint32 {
	if ch != core.TimerStep {
		return 0
	}
	return t.late.Get()
}
