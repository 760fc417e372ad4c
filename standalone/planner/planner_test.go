package planner

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcore/standalone"
	"stepcore/standalone/config"
	"stepcore/standalone/kinematics"
)

func newTestPlanner(t *testing.T, mutate func(*standalone.MachineConfig)) (*Planner, *standalone.MachineConfig) {
	t.Helper()
	cfg := config.DefaultCartesianConfig()
	if mutate != nil {
		mutate(cfg)
	}
	require.NoError(t, config.Validate(cfg))
	kin, err := kinematics.NewCartesian(cfg)
	require.NoError(t, err)
	q, err := NewQueue(cfg.BlockBufferSize)
	require.NoError(t, err)
	p := NewPlanner(cfg, kin, q)
	p.SetIdleHook(func() { t.Fatal("unexpected wait on full queue") })
	return p, cfg
}

// checkProfiles asserts the invariants every queued profile must hold
func checkProfiles(t *testing.T, p *Planner) {
	t.Helper()
	blocks := p.Queue().Snapshot()
	for i, b := range blocks {
		assert.Equal(t, b.StepEventCount, b.AccelSteps+b.PlateauSteps+b.DecelSteps, "block %d phases", i)
		assert.LessOrEqual(t, b.EntrySpeed, b.NominalSpeed+1e-9, "block %d entry above nominal", i)
		if i+1 < len(blocks) {
			assert.InDelta(t, blocks[i+1].EntrySpeed, b.ExitSpeed, 1e-9, "block %d exit", i)
			assert.LessOrEqual(t, b.ExitSpeed, blocks[i+1].NominalSpeed+1e-9)
		} else {
			assert.InDelta(t, p.minSpeed, b.ExitSpeed, 1e-9, "last block exit")
		}
	}
}

func TestPlanMoveReachesPlateau(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	require.NoError(t, p.PlanMove(standalone.Position{X: 10}, 50))

	blocks := p.Queue().Snapshot()
	require.Len(t, blocks, 1)
	b := blocks[0]

	// 10mm at 80 steps/mm; v^2/2a = 2.5mm to reach 50mm/s at 500mm/s^2
	assert.Equal(t, uint32(800), b.StepEventCount)
	assert.InDelta(t, 10.0, b.Millimeters, 1e-9)
	assert.InDelta(t, 50.0, b.NominalSpeed, 1e-9)
	assert.InDelta(t, 200, float64(b.AccelSteps), 1)
	assert.InDelta(t, 200, float64(b.DecelSteps), 1)
	assert.Greater(t, b.PlateauSteps, uint32(0))
	assert.Equal(t, uint32(800), b.AccelSteps+b.PlateauSteps+b.DecelSteps)
	assert.Equal(t, standalone.Position{X: 10}, p.Position())
}

func TestPlanMoveTriangleProfile(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	// 1mm is too short to reach 100mm/s at 500mm/s^2
	require.NoError(t, p.PlanMove(standalone.Position{X: 1}, 100))

	b := p.Queue().Snapshot()[0]
	assert.Zero(t, b.PlateauSteps)
	assert.Equal(t, b.StepEventCount, b.AccelSteps+b.DecelSteps)
	assert.InDelta(t, float64(b.StepEventCount)/2, float64(b.AccelSteps), 1)
}

func TestPlanMoveClampsToAxisLimits(t *testing.T) {
	p, cfg := newTestPlanner(t, nil)

	require.NoError(t, p.PlanMove(standalone.Position{Z: 5}, 50))
	b := p.Queue().Snapshot()[0]
	assert.InDelta(t, cfg.Axes["z"].MaxVelocity, b.NominalSpeed, 1e-9)
	assert.InDelta(t, cfg.Axes["z"].MaxAccel, b.Acceleration, 1e-9)
}

func TestPlanMoveClampsToMaxStepRate(t *testing.T) {
	p, _ := newTestPlanner(t, func(c *standalone.MachineConfig) {
		c.MaxStepRate = 8000
	})

	// 200mm/s at 80 steps/mm would need 16000 steps/s
	require.NoError(t, p.PlanMove(standalone.Position{X: 50}, 200))
	b := p.Queue().Snapshot()[0]
	assert.InDelta(t, 100.0, b.NominalSpeed, 1e-9)
}

func TestPlanMoveNominalRateStaysAtCeiling(t *testing.T) {
	for _, spm := range []float64{160, 320, 133.3} {
		p, cfg := newTestPlanner(t, func(c *standalone.MachineConfig) {
			for _, name := range []string{"x", "y"} {
				a := c.Axes[name]
				a.StepsPerMM = spm
				a.MaxVelocity = 500
				c.Axes[name] = a
			}
		})
		targets := []standalone.Position{
			{X: 150, Y: 150}, {X: 10, Y: 140}, {X: 200, Y: 30}, {X: 0.7, Y: 0.3},
		}
		for _, target := range targets {
			require.NoError(t, p.PlanMove(target, 400))
		}
		for _, b := range p.Queue().Snapshot() {
			assert.LessOrEqual(t, b.NominalRate, float64(cfg.MaxStepRate), "spm %v block %d", spm, b.Seq)
		}
	}
}

func TestPlanMoveExtruderOnly(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	require.NoError(t, p.PlanMove(standalone.Position{E: -2}, 30))
	b := p.Queue().Snapshot()[0]
	assert.InDelta(t, 2.0, b.Millimeters, 1e-9)
	assert.Equal(t, uint32(192), b.StepEventCount)
}

func TestPlanMoveRejectsOutOfRange(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	err := p.PlanMove(standalone.Position{X: 500}, 50)
	assert.ErrorIs(t, err, kinematics.ErrOutOfRange)
	assert.True(t, p.Queue().IsEmpty())
	assert.Equal(t, standalone.Position{}, p.Position())
}

func TestPlanMoveZeroLength(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	require.NoError(t, p.PlanMove(standalone.Position{}, 50))
	// Below half a step on every axis
	require.NoError(t, p.PlanMove(standalone.Position{X: 0.001}, 50))
	assert.True(t, p.Queue().IsEmpty())
}

func TestLookAheadInvariants(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	path := []standalone.Position{
		{X: 10, Y: 0},
		{X: 20, Y: 0},
		{X: 20, Y: 10},
		{X: 25, Y: 12, E: 1},
		{X: 25, Y: 12.5, E: 1.1},
		{X: 10, Y: 12.5},
		{X: 10, Y: 12.5, Z: 0.2},
		{X: 40, Y: 40, Z: 0.2, E: 3},
		{X: 41, Y: 40, Z: 0.2},
		{X: 41, Y: 40, Z: 0.2, E: 2},
	}
	for i, target := range path {
		require.NoError(t, p.PlanMove(target, 80), "move %d", i)
		checkProfiles(t, p)
	}

	// Collinear moves keep speed through the junction
	blocks := p.Queue().Snapshot()
	assert.Greater(t, blocks[1].EntrySpeed, 10.0)
}

func TestQueueFullBackpressure(t *testing.T) {
	p, _ := newTestPlanner(t, func(c *standalone.MachineConfig) {
		c.BlockBufferSize = 4
	})
	q := p.Queue()

	for i := 1; i <= 4; i++ {
		require.NoError(t, p.PlanMove(standalone.Position{X: float64(i)}, 50))
	}
	require.True(t, q.IsFull())
	before := q.Snapshot()

	// Simulated step interrupt: finish the tail block on the first spin
	spins := 0
	p.SetIdleHook(func() {
		spins++
		b, deferred := q.Acquire()
		require.NotNil(t, b)
		require.False(t, deferred)
		q.Release()
	})

	require.NoError(t, p.PlanMove(standalone.Position{X: 5}, 50))
	assert.Equal(t, 1, spins)
	assert.Equal(t, 4, q.Len())

	after := q.Snapshot()
	for i := 0; i < 3; i++ {
		assert.Equal(t, before[i+1].Seq, after[i].Seq)
	}
	assert.Equal(t, uint32(5), after[3].Seq)
	checkProfiles(t, p)
}

func TestBusyBlockIsFrozen(t *testing.T) {
	p, _ := newTestPlanner(t, nil)
	q := p.Queue()

	require.NoError(t, p.PlanMove(standalone.Position{X: 10}, 50))
	b, _ := q.Acquire()
	require.NotNil(t, b)
	exit := b.ExitSpeed
	accel, plateau, decel := b.AccelSteps, b.PlateauSteps, b.DecelSteps

	// A collinear follow-up would normally raise the junction speed
	require.NoError(t, p.PlanMove(standalone.Position{X: 20}, 50))
	require.NoError(t, p.PlanMove(standalone.Position{X: 30}, 50))

	assert.Equal(t, exit, b.ExitSpeed)
	assert.Equal(t, accel, b.AccelSteps)
	assert.Equal(t, plateau, b.PlateauSteps)
	assert.Equal(t, decel, b.DecelSteps)

	blocks := q.Snapshot()
	assert.InDelta(t, exit, blocks[1].EntrySpeed, 1e-9)
	// The block after the new tail is free to speed up
	assert.Greater(t, blocks[2].EntrySpeed, blocks[1].EntrySpeed)
	checkProfiles(t, p)
}

func TestTailDeferredWhileRecalculating(t *testing.T) {
	p, _ := newTestPlanner(t, nil)
	q := p.Queue()

	require.NoError(t, p.PlanMove(standalone.Position{X: 10}, 50))
	require.True(t, claim(q.at(q.tail.Load())))

	b, deferred := q.Acquire()
	assert.Nil(t, b)
	assert.True(t, deferred)

	p.trapezoidPass()
	b, deferred = q.Acquire()
	assert.NotNil(t, b)
	assert.False(t, deferred)
	assert.False(t, claim(b), "busy block cannot be claimed")
}

func TestPlanMoveAbortedWhileWaiting(t *testing.T) {
	p, _ := newTestPlanner(t, func(c *standalone.MachineConfig) {
		c.BlockBufferSize = 2
	})
	q := p.Queue()
	require.NoError(t, p.PlanMove(standalone.Position{X: 1}, 50))
	require.NoError(t, p.PlanMove(standalone.Position{X: 2}, 50))

	p.SetIdleHook(q.Reset)
	err := p.PlanMove(standalone.Position{X: 3}, 50)
	assert.ErrorIs(t, err, ErrAborted)

	p.SetIdleHook(q.Halt)
	require.NoError(t, p.PlanMove(standalone.Position{X: 3}, 50))
	require.NoError(t, p.PlanMove(standalone.Position{X: 4}, 50))
	err = p.PlanMove(standalone.Position{X: 5}, 50)
	assert.ErrorIs(t, err, ErrEmergencyStop)

	err = p.PlanMove(standalone.Position{X: 6}, 50)
	assert.ErrorIs(t, err, ErrEmergencyStop)
}

func TestSyncAndSetPosition(t *testing.T) {
	p, _ := newTestPlanner(t, nil)

	p.SetPosition(standalone.Position{X: 5, Y: 5})
	assert.Equal(t, [standalone.NumAxes]int32{400, 400, 0, 0}, p.StepPosition())

	p.Sync([standalone.NumAxes]int32{80, 160, 400, 96})
	assert.Equal(t, standalone.Position{X: 1, Y: 2, Z: 1, E: 1}, p.Position())
}

func TestNewQueueSize(t *testing.T) {
	for _, n := range []int{0, 1, 3, 12, 512} {
		_, err := NewQueue(n)
		assert.ErrorIs(t, err, ErrQueueSize, "size %d", n)
	}
	q, err := NewQueue(8)
	require.NoError(t, err)
	assert.Equal(t, 8, q.Capacity())
	assert.True(t, q.IsEmpty())
}

func TestCalculateTrapezoidSums(t *testing.T) {
	for _, tc := range []struct {
		steps       uint32
		entry, exit float64
	}{
		{1, 0.05, 0.05},
		{2, 0.05, 0.05},
		{100, 20, 0.05},
		{100, 0.05, 20},
		{5000, 30, 30},
		{37, 49, 49},
	} {
		b := &Block{StepEventCount: tc.steps, Millimeters: float64(tc.steps) / 80}
		b.NominalSpeed = 50
		b.NominalRate = 50 * 80
		b.AccelRate = 500 * 80
		b.calculateTrapezoid(tc.entry, tc.exit, 120)
		assert.Equal(t, tc.steps, b.AccelSteps+b.PlateauSteps+b.DecelSteps, "%+v", tc)
		assert.False(t, math.IsNaN(b.InitialRate))
	}
}
