package sim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcore/core"
)

// sweep returns step intervals growing by half each time, ending at 0.1s
func sweep() []uint32 {
	var out []uint32
	for r := 50.0; r < 200000; r *= 1.5 {
		out = append(out, uint32(r))
	}
	return append(out, 200000)
}

func reversed(in []uint32) []uint32 {
	out := make([]uint32, len(in))
	for i, v := range in {
		out[len(in)-1-i] = v
	}
	return out
}

func TestTimerPrescalerSweep(t *testing.T) {
	rising := sweep()
	tests := []struct {
		name      string
		intervals []uint32
		changes   int
		prescaler uint32
	}{
		{"rising", rising, 2, 64},
		// Step-clock multiples stay exact at 8, so the way down stops there
		{"rising then falling", append(append([]uint32{}, rising...), reversed(rising)...), 3, 8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm := NewTimer()
			require.NoError(t, tm.Start(core.TimerStep, 1000))
			tm.EnableInterrupt(core.TimerStep)

			next := 0
			require.NoError(t, core.RegisterTimerCallback(core.TimerStep, func() {
				if next < len(tt.intervals) {
					tm.SetNextInterval(core.TimerStep, tt.intervals[next])
					next++
				}
			}))
			t.Cleanup(func() { core.RegisterTimerCallback(core.TimerStep, nil) })

			require.True(t, tm.Fire(core.TimerStep))
			assert.Equal(t, uint32(1), tm.Setting(core.TimerStep).Prescaler)
			for _, r := range tt.intervals {
				start := tm.Now()
				require.True(t, tm.Fire(core.TimerStep))
				want := float64(r) * DefaultClockHz / core.StepTimerFreq
				assert.InEpsilon(t, want, float64(tm.Now()-start), 1e-4, "interval %d", r)
			}
			assert.Equal(t, tt.changes, tm.PrescalerChanges)
			assert.Equal(t, tt.prescaler, tm.Setting(core.TimerStep).Prescaler)
		})
	}
}

func TestTimerReprogramOutsideInterrupt(t *testing.T) {
	tm := NewTimer()
	require.NoError(t, tm.Start(core.TimerStep, 1000))
	tm.EnableInterrupt(core.TimerStep)
	require.NoError(t, core.RegisterTimerCallback(core.TimerStep, func() {}))
	t.Cleanup(func() { core.RegisterTimerCallback(core.TimerStep, nil) })

	// Counts from now, not from the last interrupt
	tm.SetNextInterval(core.TimerStep, 100)
	require.True(t, tm.Fire(core.TimerStep))
	assert.Equal(t, uint64(800), tm.Now())
	assert.Zero(t, tm.PrescalerChanges)

	// An untouched period repeats
	require.True(t, tm.Fire(core.TimerStep))
	assert.Equal(t, uint64(1600), tm.Now())

	tm.DisableInterrupt(core.TimerStep)
	assert.False(t, tm.Fire(core.TimerStep))
	assert.False(t, tm.Running(core.TimerStep))
}
