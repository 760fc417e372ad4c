package planner

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"stepcore/standalone"
)

// JunctionStrategy limits the speed at which the path may pass from one
// block into the next
type JunctionStrategy interface {
	// MaxJunctionSpeed returns the highest junction speed in mm/s. prev is
	// nil when the machine starts from rest. The planner floors the result
	// at the minimum planner speed and caps it at both nominal speeds.
	MaxJunctionSpeed(prev, next *Motion) float64
}

// NewJunctionStrategy builds the strategy selected by the machine config
func NewJunctionStrategy(cfg *standalone.MachineConfig) JunctionStrategy {
	if cfg.JunctionMode == standalone.JunctionClassicJerk {
		var jerk [standalone.NumAxes]float64
		for i, name := range standalone.AxisNames {
			jerk[i] = cfg.Axes[name].MaxJerk
		}
		return ClassicJerk{Jerk: jerk}
	}
	return JunctionDeviation{Deviation: cfg.JunctionDeviation}
}

// ClassicJerk caps the instantaneous per-axis velocity change at a corner
type ClassicJerk struct {
	Jerk [standalone.NumAxes]float64 // mm/s per axis
}

func (j ClassicJerk) MaxJunctionSpeed(prev, next *Motion) float64 {
	v := next.NominalSpeed
	if prev == nil {
		// Each axis may jump from standstill to at most its jerk
		for i, u := range next.Unit {
			u = math.Abs(u)
			if u > 0 && v*u > j.Jerk[i] {
				v = j.Jerk[i] / u
			}
		}
		return v
	}

	v = math.Min(v, prev.NominalSpeed)
	for i := range next.Unit {
		du := math.Abs(next.Unit[i] - prev.Unit[i])
		if du > 0 && v*du > j.Jerk[i] {
			v = j.Jerk[i] / du
		}
	}
	return v
}

// JunctionDeviation models the corner as an arc tangent to both segments
// whose closest point is Deviation mm from the sharp corner
type JunctionDeviation struct {
	Deviation float64 // mm
}

const (
	cosReversal = 0.999999
	cosStraight = -0.999999
)

func (j JunctionDeviation) MaxJunctionSpeed(prev, next *Motion) float64 {
	if prev == nil {
		return 0
	}
	return math.Sqrt(next.Acceleration * j.JunctionRadius(prev, next))
}

// JunctionRadius is the arc radius implied by the deviation for two unit
// directions; zero for reversals and non-XYZ moves
func (j JunctionDeviation) JunctionRadius(prev, next *Motion) float64 {
	a := xyzUnit(prev)
	b := xyzUnit(next)
	if a == nil || b == nil {
		return 0
	}
	cosTheta := -floats.Dot(a, b)
	if cosTheta > cosReversal {
		return 0
	}
	if cosTheta < cosStraight {
		cosTheta = cosStraight
	}
	sinHalf := math.Sqrt(0.5 * (1 - cosTheta))
	return j.Deviation * sinHalf / (1 - sinHalf)
}

// xyzUnit returns the normalised XYZ direction, or nil for extruder-only
// motion
func xyzUnit(m *Motion) []float64 {
	v := []float64{m.Unit[standalone.AxisX], m.Unit[standalone.AxisY], m.Unit[standalone.AxisZ]}
	n := floats.Norm(v, 2)
	if n < 1e-12 {
		return nil
	}
	floats.Scale(1/n, v)
	return v
}
