package kinematics

import (
	"errors"

	"stepcore/standalone"
)

// ErrOutOfRange is matched by every travel-limit violation
var ErrOutOfRange = errors.New("position out of range")

// Kinematics defines the interface for coordinate transformations
type Kinematics interface {
	// CalcSteps converts a machine position to absolute motor steps
	CalcSteps(pos standalone.Position) [standalone.NumAxes]int32

	// CalcPosition converts absolute motor steps back to a machine position
	CalcPosition(steps [standalone.NumAxes]int32) standalone.Position

	// StepsPerMM returns the per-axis resolution
	StepsPerMM() [standalone.NumAxes]float64

	// GetAxisNames returns the names of axes controlled by this kinematics
	GetAxisNames() []string

	// CheckLimits validates that a position is within configured limits
	CheckLimits(pos standalone.Position) error
}

// AxisLimits represents position limits for an axis
type AxisLimits struct {
	Min float64
	Max float64
}

// LimitError reports the axis that left its travel range
type LimitError struct {
	Axis     string
	Position float64
	Limits   AxisLimits
}

func (e *LimitError) Error() string {
	return e.Axis + " position out of limits"
}

func (e *LimitError) Is(target error) bool {
	return target == ErrOutOfRange
}
