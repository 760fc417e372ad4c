package planner

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"stepcore/standalone"
)

func motion(dx, dy, dz, de, nominal, accel float64) *Motion {
	m := &Motion{NominalSpeed: nominal, Acceleration: accel}
	l := math.Sqrt(dx*dx + dy*dy + dz*dz)
	if l == 0 {
		l = math.Abs(de)
	}
	m.Unit = [standalone.NumAxes]float64{dx / l, dy / l, dz / l, de / l}
	return m
}

func TestJunctionDeviationCorner(t *testing.T) {
	jd := JunctionDeviation{Deviation: 0.05}

	// 90 degree corner: r = d*sin(45)/(1-sin(45))
	prev := motion(1, 0, 0, 0, 100, 500)
	next := motion(0, 1, 0, 0, 100, 500)
	r := 0.05 * math.Sqrt(0.5) / (1 - math.Sqrt(0.5))
	assert.InDelta(t, r, jd.JunctionRadius(prev, next), 1e-12)
	assert.InDelta(t, math.Sqrt(500*r), jd.MaxJunctionSpeed(prev, next), 1e-9)

	// Reversal
	back := motion(-1, 0, 0, 0, 100, 500)
	assert.Zero(t, jd.MaxJunctionSpeed(prev, back))

	// Straight line is effectively unlimited
	assert.Greater(t, jd.MaxJunctionSpeed(prev, motion(2, 0, 0, 1, 100, 500)), 100.0)

	// From rest and extruder-only moves
	assert.Zero(t, jd.MaxJunctionSpeed(nil, next))
	assert.Zero(t, jd.MaxJunctionSpeed(prev, motion(0, 0, 0, 1, 100, 500)))
}

func TestClassicJerkLimits(t *testing.T) {
	cj := ClassicJerk{Jerk: [standalone.NumAxes]float64{10, 10, 0.4, 5}}

	// 90 degree corner: both X and Y change by v
	v := cj.MaxJunctionSpeed(motion(1, 0, 0, 0, 100, 500), motion(0, 1, 0, 0, 100, 500))
	assert.InDelta(t, 10.0, v, 1e-9)

	// Collinear moves only limited by nominal speed
	v = cj.MaxJunctionSpeed(motion(1, 0, 0, 0, 80, 500), motion(1, 0, 0, 0, 60, 500))
	assert.InDelta(t, 60.0, v, 1e-9)

	// From rest a Z move may start at its jerk
	v = cj.MaxJunctionSpeed(nil, motion(0, 0, 1, 0, 10, 100))
	assert.InDelta(t, 0.4, v, 1e-9)
}

func TestJunctionProperties(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	jerk := [standalone.NumAxes]float64{10, 8, 0.4, 5}
	cj := ClassicJerk{Jerk: jerk}
	jd := JunctionDeviation{Deviation: 0.02}

	rnd := func() *Motion {
		return motion(rng.Float64()*2-1, rng.Float64()*2-1, rng.Float64()*0.2-0.1,
			rng.Float64()*0.1, 5+rng.Float64()*200, 100+rng.Float64()*3000)
	}

	for i := 0; i < 2000; i++ {
		prev, next := rnd(), rnd()

		v := cj.MaxJunctionSpeed(prev, next)
		assert.LessOrEqual(t, v, prev.NominalSpeed+1e-9)
		assert.LessOrEqual(t, v, next.NominalSpeed+1e-9)
		for axis := range jerk {
			dv := math.Abs(v*next.Unit[axis] - v*prev.Unit[axis])
			assert.LessOrEqual(t, dv, jerk[axis]+1e-9, "axis %d", axis)
		}

		v = jd.MaxJunctionSpeed(prev, next)
		r := jd.JunctionRadius(prev, next)
		assert.LessOrEqual(t, v*v, next.Acceleration*r*(1+1e-9)+1e-12)
	}
}

func TestPlannerJunctionClamp(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	assert.InDelta(t, p.minSpeed, p.clampJunction(0, 50, 50), 1e-12)
	assert.InDelta(t, 30.0, p.clampJunction(1000, 50, 30), 1e-12)
	assert.InDelta(t, 20.0, p.clampJunction(1000, 20, 30), 1e-12)
}
