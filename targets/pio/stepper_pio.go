//go:build rp2040

package pio

// PIO step backend using tinygo-org/pio: one state machine per axis, so
// pulse width and dir-to-step setup are hardware timed

import (
	"machine"

	rp2pio "github.com/tinygo-org/pio/rp2-pio"

	"stepcore/core"
)

// PIO program for step pulse generation
// Command word format (shifted out LSB first):
//
//	Bits 0-15:  pulse count minus one
//	Bits 16-23: delay loops between pulses minus one
//	Bit 24:     direction (0=forward, 1=reverse)
//
// Program flow:
//  1. Pull 32-bit command from FIFO
//  2. Extract pulse count into X register
//  3. Extract delay cycles into Y register
//  4. Set direction pin
//  5. Generate X+1 pulses with Y+1 loop delays between them
//
// buildStepperProgram creates the stepper PIO program using AssemblerV0
func buildStepperProgram() []uint16 {
	asm := rp2pio.AssemblerV0{SidesetBits: 0}
	return []uint16{
		// .wrap_target
		asm.Pull(false, true).Encode(),          // 0: pull block
		asm.Out(rp2pio.OutDestX, 16).Encode(),   // 1: out x, 16 (pulse count)
		asm.Out(rp2pio.OutDestY, 8).Encode(),    // 2: out y, 8 (delay cycles)
		asm.Out(rp2pio.OutDestPins, 1).Encode(), // 3: out pins, 1 (direction)
		// step_loop:
		asm.Set(rp2pio.SetDestPins, 1).Delay(7).Encode(), // 4: set pins, 1 [7]
		asm.Set(rp2pio.SetDestPins, 0).Encode(),          // 5: set pins, 0
		// delay_loop:
		asm.Jmp(6, rp2pio.JmpYNZeroDec).Encode(), // 6: jmp y--, 6
		asm.Jmp(4, rp2pio.JmpXNZeroDec).Encode(), // 7: jmp x--, 4
		// .wrap
	}
}

const stepperPIOOrigin = 0 // Load at offset 0 for correct jump addresses

const cmdReverse = 1 << 24

type pioAxis struct {
	pio     *rp2pio.PIO
	sm      rp2pio.StateMachine
	reverse bool
	invDir  bool
	enable  machine.Pin
	hasEn   bool
	invEn   bool
}

// PIOBackend implements core.StepperBackend with one PIO state machine per
// axis. Step only queues a command word; the state machine sets the
// direction pin and emits the pulse.
type PIOBackend struct {
	axes    [core.MaxAxes]pioAxis
	n       int
	offsets [2]int16 // Program offset per PIO block, -1 when not loaded
}

// NewPIOBackend creates a backend; state machines are claimed in Init
func NewPIOBackend() *PIOBackend {
	return &PIOBackend{offsets: [2]int16{-1, -1}}
}

// Init claims a state machine per axis and routes its step and dir pins
func (b *PIOBackend) Init(axes []core.AxisPins) error {
	if len(axes) > core.MaxAxes {
		return ErrNoStateMachine
	}
	program := buildStepperProgram()
	for i, ax := range axes {
		pioNum, smNum, ok := allocatePIO()
		if !ok {
			return ErrNoStateMachine
		}
		hw := rp2pio.PIO0
		if pioNum == 1 {
			hw = rp2pio.PIO1
		}

		if b.offsets[pioNum] < 0 {
			offset, err := hw.AddProgram(program, stepperPIOOrigin)
			if err != nil {
				return err
			}
			b.offsets[pioNum] = int16(offset)
		}
		offset := uint8(b.offsets[pioNum])

		sm := hw.StateMachine(smNum)
		// CRITICAL: Claim the state machine first!
		sm.TryClaim()

		stepPin := machine.Pin(ax.Step)
		dirPin := machine.Pin(ax.Dir)
		stepPin.Configure(machine.PinConfig{Mode: hw.PinMode()})
		dirPin.Configure(machine.PinConfig{Mode: hw.PinMode()})

		cfg := rp2pio.DefaultStateMachineConfig()
		cfg.SetSetPins(stepPin, 1)
		cfg.SetOutPins(dirPin, 1)
		// Shift right, autopull disabled (explicit PULL), 32-bit threshold
		cfg.SetOutShift(true, false, 32)
		cfg.SetWrap(offset+uint8(len(program))-1, offset)
		// 125MHz / 25 = 5MHz: 8-cycle high phase is 1.6us
		cfg.SetClkDivIntFrac(25, 0)

		// Initialize state machine FIRST
		sm.Init(offset, cfg)

		// THEN set pin directions (must be after Init!)
		sm.SetPindirsConsecutive(stepPin, 1, true)
		sm.SetPindirsConsecutive(dirPin, 1, true)
		sm.SetPinsConsecutive(stepPin, 1, false)
		sm.SetPinsConsecutive(dirPin, 1, ax.InvertDir)
		sm.SetEnabled(true)

		a := &b.axes[i]
		a.pio = hw
		a.sm = sm
		if ax.HasEnable {
			a.enable = machine.Pin(ax.Enable)
			a.enable.Configure(machine.PinConfig{Mode: machine.PinOutput})
			a.hasEn = true
			a.invEn = ax.InvertEnable
			a.enable.Set(a.invEn)
		}
		a.invDir = ax.InvertDir
	}
	b.n = len(axes)
	return nil
}

// Step queues one pulse on axis
func (b *PIOBackend) Step(axis uint8) {
	if int(axis) >= b.n {
		return
	}
	a := &b.axes[axis]
	var cmd uint32 // count-1 = 0, delay-1 = 0
	if a.reverse != a.invDir {
		cmd |= cmdReverse
	}
	// The FIFO is four words deep and drains in under a microsecond
	for a.sm.IsTxFIFOFull() {
	}
	a.sm.TxPut(cmd)
}

// SetDirection latches the direction sent with the next pulse of axis
func (b *PIOBackend) SetDirection(axis uint8, reverse bool) {
	if int(axis) >= b.n {
		return
	}
	b.axes[axis].reverse = reverse
}

// EnableAll energises every motor with an enable pin
func (b *PIOBackend) EnableAll() {
	for i := 0; i < b.n; i++ {
		if a := &b.axes[i]; a.hasEn {
			a.enable.Set(!a.invEn)
		}
	}
}

// DisableAll de-energises every motor with an enable pin
func (b *PIOBackend) DisableAll() {
	for i := 0; i < b.n; i++ {
		if a := &b.axes[i]; a.hasEn {
			a.enable.Set(a.invEn)
		}
	}
}

// Stop drops any queued pulses
func (b *PIOBackend) Stop() {
	for i := 0; i < b.n; i++ {
		sm := b.axes[i].sm
		sm.SetEnabled(false)
		sm.ClearFIFOs()
		sm.Restart()
		sm.SetEnabled(true)
	}
}

// GetName returns the backend name
func (b *PIOBackend) GetName() string {
	return "pio"
}

// GetInfo returns backend performance information
func (b *PIOBackend) GetInfo() core.StepperBackendInfo {
	return core.StepperBackendInfo{
		Name:          b.GetName(),
		MaxStepRate:   250000,
		MinPulseNs:    1600,
		TypicalJitter: 10, // hardware-timed edges
		CPUOverhead:   1,  // one FIFO write per pulse
	}
}
