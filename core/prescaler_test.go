package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchPrescaler(t *testing.T) {
	table := []uint32{1, 8, 64, 256, 1024}

	tests := []struct {
		name      string
		clock     uint32
		desired   float64
		maxReload uint32
		prescaler uint32
		reload    uint32
	}{
		{"exact at first divider", 16000000, 1000, 65535, 1, 16000},
		{"first divider overflows", 16000000, 100, 65535, 8, 20000},
		{"slowest rate clamps reload", 16000000, 0.5, 65535, 1024, 31250},
		{"very fast rate clamps to one", 16000000, 20000000, 65535, 1, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := SearchPrescaler(tt.clock, tt.desired, table, tt.maxReload)
			require.NoError(t, err)
			assert.Equal(t, tt.prescaler, s.Prescaler)
			assert.Equal(t, tt.reload, s.Reload)
			assert.Equal(t, tt.prescaler, table[s.Index])
		})
	}
}

func TestSearchPrescalerTieKeepsEarliest(t *testing.T) {
	// 8000 Hz is exact for both dividers 1 and 8 on a 16 MHz clock
	s, err := SearchPrescaler(16000000, 8000, []uint32{8, 1}, 65535)
	require.NoError(t, err)
	assert.Equal(t, uint32(8), s.Prescaler)
	assert.Equal(t, 0, s.Index)

	s, err = SearchPrescaler(16000000, 8000, []uint32{1, 8}, 65535)
	require.NoError(t, err)
	assert.Equal(t, uint32(1), s.Prescaler)
	assert.InDelta(t, 8000.0, s.Achieved, 1e-9)
}

func TestSearchPrescalerErrors(t *testing.T) {
	_, err := SearchPrescaler(16000000, 1000, nil, 65535)
	assert.ErrorIs(t, err, ErrNoPrescaler)

	_, err = SearchPrescaler(16000000, 0, []uint32{1}, 65535)
	assert.ErrorIs(t, err, ErrInvalidFrequency)

	_, err = SearchPrescaler(16000000, -5, []uint32{1}, 65535)
	assert.ErrorIs(t, err, ErrInvalidFrequency)
}

func TestTimerSettingPeriod(t *testing.T) {
	s := TimerSetting{Prescaler: 64, Reload: 50000}
	assert.Equal(t, uint64(3200000), s.Period())
}

func TestCounterReload(t *testing.T) {
	tests := []struct {
		name    string
		hw      uint64
		div     uint32
		elapsed uint32
		ctr     uint32
		pending uint64
	}{
		{"short", 1000, 1, 0, 64536, 0},
		{"entry latency", 1000, 1, 30, 64566, 0},
		{"divided", 1000, 8, 0, 65411, 0},
		{"zero", 0, 1, 0, 65535, 0},
		{"overdue", 20, 1, 40, 65535, 0},
		{"full span", 65536, 1, 0, 0, 0},
		{"two pieces", 100000, 1, 0, 15536, 50000},
		{"two pieces late", 100000, 1, 10, 15546, 50000},
		{"four pieces", 200000, 1, 0, 15536, 150000},
		{"max divider", 20000000, 255, 0, 26321, 10000175},
		{"zero divider", 1000, 0, 0, 64536, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctr, pending := CounterReload(tt.hw, tt.div, tt.elapsed)
			assert.Equal(t, tt.ctr, ctr)
			assert.Equal(t, tt.pending, pending)
		})
	}
}

func TestCounterReloadPiecesCoverPeriod(t *testing.T) {
	for _, hw := range []uint64{65537, 131072, 1000003, 25000000} {
		for _, div := range []uint32{1, 8, 255} {
			var total uint64
			pending := hw
			for pending >= uint64(div) {
				ctr, rest := CounterReload(pending, div, 0)
				counts := uint64(CounterSpan - ctr)
				require.LessOrEqual(t, counts, uint64(CounterSpan))
				if rest > 0 {
					assert.GreaterOrEqual(t, counts, uint64(CounterSpan/2))
				}
				total += counts * uint64(div)
				pending = rest
				if rest == 0 {
					break
				}
			}
			assert.Less(t, hw-total, uint64(div), "hw=%d div=%d", hw, div)
		}
	}
}
