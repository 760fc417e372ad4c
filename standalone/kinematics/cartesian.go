package kinematics

import (
	"errors"
	"math"
	"strings"

	"stepcore/standalone"
)

// Cartesian implements basic Cartesian kinematics (XYZ 1:1 mapping)
type Cartesian struct {
	stepsPerMM [standalone.NumAxes]float64
	limits     [standalone.NumAxes]AxisLimits
}

// NewCartesian creates a new Cartesian kinematics instance
func NewCartesian(config *standalone.MachineConfig) (*Cartesian, error) {
	k := &Cartesian{}
	for i, name := range standalone.AxisNames {
		axis, ok := config.Axes[name]
		if !ok {
			return nil, errors.New(strings.ToUpper(name) + " axis not configured")
		}
		if axis.StepsPerMM <= 0 {
			return nil, errors.New(strings.ToUpper(name) + " axis steps_per_mm must be positive")
		}
		k.stepsPerMM[i] = axis.StepsPerMM
		k.limits[i] = AxisLimits{Min: axis.MinPosition, Max: axis.MaxPosition}
	}
	return k, nil
}

// CalcSteps rounds each axis to the nearest whole step
func (k *Cartesian) CalcSteps(pos standalone.Position) [standalone.NumAxes]int32 {
	var steps [standalone.NumAxes]int32
	for i, v := range pos.Array() {
		steps[i] = int32(math.Round(v * k.stepsPerMM[i]))
	}
	return steps
}

// CalcPosition converts step counts back to millimetres
func (k *Cartesian) CalcPosition(steps [standalone.NumAxes]int32) standalone.Position {
	var a [standalone.NumAxes]float64
	for i, s := range steps {
		a[i] = float64(s) / k.stepsPerMM[i]
	}
	return standalone.PositionFromArray(a)
}

// StepsPerMM returns the per-axis resolution
func (k *Cartesian) StepsPerMM() [standalone.NumAxes]float64 {
	return k.stepsPerMM
}

// GetAxisNames returns the axis names for Cartesian kinematics
func (k *Cartesian) GetAxisNames() []string {
	return standalone.AxisNames[:]
}

// CheckLimits validates that a position is within configured limits.
// The extruder has no travel range.
func (k *Cartesian) CheckLimits(pos standalone.Position) error {
	a := pos.Array()
	for i := standalone.AxisX; i <= standalone.AxisZ; i++ {
		lim := k.limits[i]
		if a[i] < lim.Min || a[i] > lim.Max || math.IsNaN(a[i]) {
			return &LimitError{
				Axis:     strings.ToUpper(standalone.AxisNames[i]),
				Position: a[i],
				Limits:   lim,
			}
		}
	}
	if math.IsNaN(pos.E) || math.IsInf(pos.E, 0) {
		return &LimitError{Axis: "E", Position: pos.E}
	}
	return nil
}
