package sim

import (
	"stepcore/core"
)

// Stepper is a pulse-counting StepperBackend
type Stepper struct {
	Axes     []core.AxisPins
	Pulses   [core.MaxAxes]uint32
	Position [core.MaxAxes]int32
	Reverse  [core.MaxAxes]bool
	Enabled  bool
	Stops    int

	// OnStep, when set, sees every pulse
	OnStep func(axis uint8)
}

// NewStepper creates a backend with no axes configured
func NewStepper() *Stepper {
	return &Stepper{}
}

func (s *Stepper) Init(axes []core.AxisPins) error {
	s.Axes = append([]core.AxisPins(nil), axes...)
	return nil
}

func (s *Stepper) Step(axis uint8) {
	if int(axis) >= core.MaxAxes {
		return
	}
	s.Pulses[axis]++
	if s.Reverse[axis] {
		s.Position[axis]--
	} else {
		s.Position[axis]++
	}
	if s.OnStep != nil {
		s.OnStep(axis)
	}
}

func (s *Stepper) SetDirection(axis uint8, reverse bool) {
	if int(axis) < core.MaxAxes {
		s.Reverse[axis] = reverse
	}
}

func (s *Stepper) EnableAll()  { s.Enabled = true }
func (s *Stepper) DisableAll() { s.Enabled = false }
func (s *Stepper) Stop()       { s.Stops++ }

func (s *Stepper) GetName() string {
	return "sim"
}

// ResetCounters clears pulse counts, keeping position
func (s *Stepper) ResetCounters() {
	s.Pulses = [core.MaxAxes]uint32{}
}
