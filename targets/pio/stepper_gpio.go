//go:build rp2040 || rp2350

package pio

import (
	"device/arm"
	"device/rp"
	"machine"

	"stepcore/core"
)

type sioAxis struct {
	stepOn  uint32 // SIO mask that raises the step output
	stepOff uint32
	dirMask uint32
	invDir  bool
	enable  machine.Pin
	hasEn   bool
	invEn   bool
}

// SIOBackend implements core.StepperBackend with single-cycle SIO writes.
// Pulse width comes from a NOP train, so it costs CPU inside the step
// interrupt; use PIOBackend for high step rates.
// Performance: ~200kHz max step rate, ~100ns pulse width
type SIOBackend struct {
	axes [core.MaxAxes]sioAxis
	n    int
}

// NewSIOBackend creates a new SIO-based stepper backend
func NewSIOBackend() *SIOBackend {
	return &SIOBackend{}
}

// Init configures step, dir and enable outputs with motors disabled
func (b *SIOBackend) Init(axes []core.AxisPins) error {
	if len(axes) > core.MaxAxes {
		return ErrNoStateMachine
	}
	for i, ax := range axes {
		step := machine.Pin(ax.Step)
		dir := machine.Pin(ax.Dir)
		step.Configure(machine.PinConfig{Mode: machine.PinOutput})
		dir.Configure(machine.PinConfig{Mode: machine.PinOutput})
		step.Set(ax.InvertStep)
		dir.Set(ax.InvertDir)

		a := &b.axes[i]
		a.stepOn = 1 << ax.Step
		a.stepOff = 1 << ax.Step
		a.dirMask = 1 << ax.Dir
		a.invDir = ax.InvertDir
		if ax.InvertStep {
			// Idle high: a pulse is a low-going edge
			a.stepOn = 0
		} else {
			a.stepOff = 0
		}
		if ax.HasEnable {
			a.enable = machine.Pin(ax.Enable)
			a.enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
			a.hasEn = true
			a.invEn = ax.InvertEnable
			a.enable.Set(a.invEn)
		}
	}
	b.n = len(axes)
	return nil
}

// Step generates a single step pulse
// Pulse width: ~104ns @ 125MHz
func (b *SIOBackend) Step(axis uint8) {
	if int(axis) >= b.n {
		return
	}
	a := &b.axes[axis]
	if a.stepOn != 0 {
		rp.SIO.GPIO_OUT_SET.Set(a.stepOn)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(a.stepOff)
	}

	// Each NOP is ~8ns @ 125MHz
	// Target: 100ns minimum for Trinamic drivers
	arm.Asm("nop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop\nnop")

	if a.stepOn != 0 {
		rp.SIO.GPIO_OUT_CLR.Set(a.stepOn)
	} else {
		rp.SIO.GPIO_OUT_SET.Set(a.stepOff)
	}
}

// SetDirection sets the direction output
// Ensures proper dir-to-step setup time (20ns minimum for TMC drivers)
func (b *SIOBackend) SetDirection(axis uint8, reverse bool) {
	if int(axis) >= b.n {
		return
	}
	a := &b.axes[axis]
	if reverse != a.invDir {
		rp.SIO.GPIO_OUT_SET.Set(a.dirMask)
	} else {
		rp.SIO.GPIO_OUT_CLR.Set(a.dirMask)
	}
	// 3 NOPs = ~24ns @ 125MHz
	arm.Asm("nop\nnop\nnop")
}

// EnableAll energises every motor with an enable pin
func (b *SIOBackend) EnableAll() {
	for i := 0; i < b.n; i++ {
		if a := &b.axes[i]; a.hasEn {
			a.enable.Set(!a.invEn)
		}
	}
}

// DisableAll de-energises every motor with an enable pin
func (b *SIOBackend) DisableAll() {
	for i := 0; i < b.n; i++ {
		if a := &b.axes[i]; a.hasEn {
			a.enable.Set(a.invEn)
		}
	}
}

// Stop returns every step output to its idle level
func (b *SIOBackend) Stop() {
	for i := 0; i < b.n; i++ {
		a := &b.axes[i]
		if a.stepOn != 0 {
			rp.SIO.GPIO_OUT_CLR.Set(a.stepOn)
		} else {
			rp.SIO.GPIO_OUT_SET.Set(a.stepOff)
		}
	}
}

// GetName returns the backend name
func (b *SIOBackend) GetName() string {
	return "sio"
}

// GetInfo returns backend performance information
func (b *SIOBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   200000, // 200 kHz
		MinPulseNs:    100,
		TypicalJitter: 500, // ~500ns jitter (interrupt-based)
		CPUOverhead:   15,  // ~15% CPU at max rate (4 axes)
	}
}
