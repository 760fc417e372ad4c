package stepgen

import (
	"errors"

	"stepcore/core"
	"stepcore/standalone"
)

var ErrTooManyAxes = errors.New("too many axes for stepper backend")

// GPIOBackend drives step, dir and enable pins through a core.GPIODriver.
// The step pulse is a set/clear pair, so its width is the GPIO write
// latency. Fine for modest step rates; use a PIO backend beyond that.
type GPIOBackend struct {
	gpio core.GPIODriver
	axes []core.AxisPins
}

// NewGPIOBackend creates a backend on top of d
func NewGPIOBackend(d core.GPIODriver) *GPIOBackend {
	return &GPIOBackend{gpio: d}
}

// Init configures every pin as an output with motors disabled
func (g *GPIOBackend) Init(axes []core.AxisPins) error {
	if len(axes) > core.MaxAxes {
		return ErrTooManyAxes
	}
	for _, ax := range axes {
		if err := g.gpio.ConfigureOutput(ax.Step); err != nil {
			return err
		}
		if err := g.gpio.SetPin(ax.Step, ax.InvertStep); err != nil {
			return err
		}
		if err := g.gpio.ConfigureOutput(ax.Dir); err != nil {
			return err
		}
		if ax.HasEnable {
			if err := g.gpio.ConfigureOutput(ax.Enable); err != nil {
				return err
			}
			if err := core.SetMotorEnable(g.gpio, ax, false); err != nil {
				return err
			}
		}
	}
	g.axes = append(g.axes[:0], axes...)
	return nil
}

// Step emits one pulse on axis
func (g *GPIOBackend) Step(axis uint8) {
	if int(axis) >= len(g.axes) {
		return
	}
	ax := g.axes[axis]
	_ = g.gpio.SetPin(ax.Step, !ax.InvertStep)
	_ = g.gpio.SetPin(ax.Step, ax.InvertStep)
}

// SetDirection sets the direction output of axis
func (g *GPIOBackend) SetDirection(axis uint8, reverse bool) {
	if int(axis) >= len(g.axes) {
		return
	}
	ax := g.axes[axis]
	_ = g.gpio.SetPin(ax.Dir, reverse != ax.InvertDir)
}

// EnableAll energises every motor with an enable pin
func (g *GPIOBackend) EnableAll() {
	for _, ax := range g.axes {
		_ = core.SetMotorEnable(g.gpio, ax, true)
	}
}

// DisableAll de-energises every motor with an enable pin
func (g *GPIOBackend) DisableAll() {
	for _, ax := range g.axes {
		_ = core.SetMotorEnable(g.gpio, ax, false)
	}
}

// Stop returns every step output to its idle level
func (g *GPIOBackend) Stop() {
	for _, ax := range g.axes {
		_ = g.gpio.SetPin(ax.Step, ax.InvertStep)
	}
}

// GetName returns backend implementation name
func (g *GPIOBackend) GetName() string {
	return "gpio"
}

// AxisPinsFromConfig resolves the pin names of every configured axis, in
// axis order
func AxisPinsFromConfig(cfg *standalone.MachineConfig) ([]core.AxisPins, error) {
	pins := make([]core.AxisPins, 0, standalone.NumAxes)
	for _, name := range standalone.AxisNames {
		axis := cfg.Axes[name]
		step, err := core.ParsePin(axis.StepPin)
		if err != nil {
			return nil, err
		}
		dir, err := core.ParsePin(axis.DirPin)
		if err != nil {
			return nil, err
		}
		p := core.AxisPins{
			Step:         step,
			Dir:          dir,
			InvertStep:   axis.InvertStep,
			InvertDir:    axis.InvertDir,
			InvertEnable: axis.InvertEnable,
		}
		if axis.EnablePin != "" {
			en, err := core.ParsePin(axis.EnablePin)
			if err != nil {
				return nil, err
			}
			p.Enable = en
			p.HasEnable = true
		}
		pins = append(pins, p)
	}
	return pins, nil
}
