package leveling

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stepcore/standalone"
)

// 3x3 points over [0,20]^2: four 10mm cells, centre raised 0.4mm
func centreBumpMesh(t *testing.T) *Mesh {
	t.Helper()
	m, err := NewMesh(standalone.MeshConfig{MinX: 0, MinY: 0, MaxX: 20, MaxY: 20, CountX: 3, CountY: 3})
	require.NoError(t, err)
	require.NoError(t, m.Set(1, 1, 0.4))
	m.SetValid()
	return m
}

func TestNewMeshRejectsBadGeometry(t *testing.T) {
	for _, cfg := range []standalone.MeshConfig{
		{MaxX: 10, MaxY: 10, CountX: 1, CountY: 3},
		{MaxX: 10, MaxY: 10, CountX: 3, CountY: 0},
		{MinX: 5, MaxX: 5, MaxY: 10, CountX: 3, CountY: 3},
		{MaxX: 10, MinY: 10, MaxY: 0, CountX: 3, CountY: 3},
	} {
		_, err := NewMesh(cfg)
		assert.ErrorIs(t, err, ErrMeshConfig, "%+v", cfg)
	}
}

func TestCellIndex(t *testing.T) {
	m := centreBumpMesh(t)

	tests := []struct {
		x    float64
		cell int
	}{
		{-5, 0},
		{0, 0},
		{5, 0},
		{10, 0}, // on a grid line: lower cell
		{10.0001, 1},
		{20, 1},
		{35, 1}, // past the last line: last cell
	}
	for _, tt := range tests {
		assert.Equal(t, tt.cell, m.CellX(tt.x), "x=%v", tt.x)
		assert.Equal(t, tt.cell, m.CellY(tt.x), "y=%v", tt.x)
	}
}

func TestZAtBilinear(t *testing.T) {
	m := centreBumpMesh(t)

	assert.InDelta(t, 0.0, m.ZAt(0, 0), 1e-12)
	assert.InDelta(t, 0.4, m.ZAt(10, 10), 1e-12)
	assert.InDelta(t, 0.1, m.ZAt(5, 5), 1e-12)
	assert.InDelta(t, 0.26, m.ZAt(10, 6.5), 1e-12)
	assert.InDelta(t, 0.16, m.ZAt(15, 8), 1e-12)
	// Continuous across a grid line
	assert.InDelta(t, m.ZAt(10-1e-7, 4), m.ZAt(10+1e-7, 4), 1e-6)
	// Clamped outside the grid
	assert.InDelta(t, m.ZAt(20, 10), m.ZAt(40, 10), 1e-12)
}

func TestSplitCrossingTwoCells(t *testing.T) {
	m := centreBumpMesh(t)
	tr := NewTransform(m)

	start := standalone.Position{X: 5, Y: 5, Z: 0.3, E: 1}
	end := standalone.Position{X: 15, Y: 8, Z: 0.3, E: 2}

	type move struct {
		target standalone.Position
		feed   float64
	}
	var moves []move
	err := tr.Apply(start, end, 40, func(p standalone.Position, f float64) error {
		moves = append(moves, move{p, f})
		return nil
	})
	require.NoError(t, err)
	require.Len(t, moves, 2)

	// Crossing x=10 at t=0.5
	want := []move{
		{standalone.Position{X: 10, Y: 6.5, Z: 0.3 + 0.26, E: 1.5}, 40},
		{standalone.Position{X: 15, Y: 8, Z: 0.3 + 0.16, E: 2}, 40},
	}
	opt := cmp.Comparer(func(a, b float64) bool { return a-b < 1e-12 && b-a < 1e-12 })
	if diff := cmp.Diff(want, moves, opt, cmp.AllowUnexported(move{})); diff != "" {
		t.Errorf("sub-moves mismatch (-want +got):\n%s", diff)
	}

	// Summed Z deltas reach the corrected height at the end point
	total := (moves[0].target.Z - start.Z) + (moves[1].target.Z - moves[0].target.Z)
	assert.InDelta(t, m.ZAt(15, 8), total, 1e-12)
}

func TestSplitRejoinsExactly(t *testing.T) {
	m, err := NewMesh(standalone.MeshConfig{MinX: 0, MinY: 0, MaxX: 200, MaxY: 180, CountX: 7, CountY: 5})
	require.NoError(t, err)
	s := NewSplitter(m)

	cases := [][2]standalone.Position{
		{{X: 3, Y: 7, Z: 0.2, E: 0}, {X: 197, Y: 171, Z: 0.4, E: 12.5}},
		{{X: 190, Y: 10, E: 5}, {X: 2.5, Y: 170, E: 1}},
		{{X: 50, Y: 45}, {X: 50, Y: 135}}, // starts and ends on Y lines
		{{X: 33.333333333333336, Y: 0}, {X: 33.333333333333336, Y: 30}},
		{{X: 10, Y: 10}, {X: 12, Y: 11}}, // same cell
	}
	for _, c := range cases {
		segs := s.Split(c[0], c[1])
		require.NotEmpty(t, segs)
		assert.Equal(t, c[0], segs[0].Start)
		assert.Equal(t, c[1], segs[len(segs)-1].End, "last segment ends exactly at target")
		for i := 1; i < len(segs); i++ {
			assert.Equal(t, segs[i-1].End, segs[i].Start, "segments join exactly")
		}
		for _, seg := range segs {
			// No grid line left strictly inside a sub-segment
			_, ok := s.cut(seg)
			assert.False(t, ok, "%+v", seg)
		}
	}

	// One cut per interior line crossed: x=33.3, 66.6, 100, 133.3, 166.6 and y=45, 90, 135
	assert.Len(t, s.Split(cases[0][0], cases[0][1]), 9)
	assert.Len(t, s.Split(cases[4][0], cases[4][1]), 1)
	assert.Len(t, s.Split(cases[2][0], cases[2][1]), 2)
	// Running along a line is not a crossing
	assert.Len(t, s.Split(cases[3][0], cases[3][1]), 1)
}

func TestTransformRequiresValidMesh(t *testing.T) {
	m := centreBumpMesh(t)
	m.Invalidate()
	tr := NewTransform(m)

	called := false
	err := tr.Apply(standalone.Position{}, standalone.Position{X: 10}, 10, func(standalone.Position, float64) error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrMeshInvalid)
	assert.False(t, called)
}

func TestTransformTargets(t *testing.T) {
	m := centreBumpMesh(t)
	tr := NewTransform(m)

	start := standalone.Position{X: 5, Y: 5, Z: 0.3, E: 1}
	end := standalone.Position{X: 15, Y: 8, Z: 0.3, E: 2}
	targets, err := tr.Targets(start, end)
	require.NoError(t, err)

	// Same corrected ends Apply emits, all of them before anything is queued
	var emitted []standalone.Position
	require.NoError(t, tr.Apply(start, end, 40, func(p standalone.Position, _ float64) error {
		emitted = append(emitted, p)
		return nil
	}))
	assert.Equal(t, emitted, targets)
	require.Len(t, targets, 2)
	assert.InDelta(t, 0.3+m.ZAt(15, 8), targets[1].Z, 1e-12)

	m.Invalidate()
	targets, err = tr.Targets(start, end)
	assert.ErrorIs(t, err, ErrMeshInvalid)
	assert.Empty(t, targets)
}

func TestTransformStopsOnEmitError(t *testing.T) {
	tr := NewTransform(centreBumpMesh(t))
	boom := errors.New("boom")

	n := 0
	err := tr.Apply(standalone.Position{X: 1, Y: 1}, standalone.Position{X: 19, Y: 19}, 10, func(standalone.Position, float64) error {
		n++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, n)

	p := standalone.Position{X: 7, Y: 3, Z: 1}
	assert.InDelta(t, p.Z, tr.Uncorrect(tr.Correct(p)).Z, 1e-12)
}

func TestMeshCodecRoundTrip(t *testing.T) {
	m, err := NewMesh(standalone.MeshConfig{MaxX: 100, MaxY: 100, CountX: 4, CountY: 3})
	require.NoError(t, err)
	heights := []float64{0, -0.125, 0.3, 1.5, -2.75, 0.001, 0.064, -0.033, 12.5, -100, 0.0005, 3}
	for i, z := range heights {
		require.NoError(t, m.Set(i%4, i/4, z))
	}
	m.SetValid()

	blob, err := EncodeMesh(m)
	require.NoError(t, err)

	got, err := NewMesh(m.Config())
	require.NoError(t, err)
	v := got.Version()
	require.NoError(t, DecodeMesh(blob, got))
	assert.True(t, got.Valid())
	assert.NotEqual(t, v, got.Version())

	// Fixed point: microns
	want := m.Values()
	want[2][2] = 0.001 // 0.0005 rounds to one micron
	if diff := cmp.Diff(want, got.Values(), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("decoded mesh mismatch (-want +got):\n%s", diff)
	}
}

func TestMeshCodecRejects(t *testing.T) {
	m := centreBumpMesh(t)
	blob, err := EncodeMesh(m)
	require.NoError(t, err)

	target, err := NewMesh(m.Config())
	require.NoError(t, err)
	require.NoError(t, target.Set(0, 0, 9))

	corrupt := func(f func(b []byte) []byte) []byte {
		b := append([]byte(nil), blob...)
		return f(b)
	}

	tests := []struct {
		name string
		data []byte
		err  error
	}{
		{"short", blob[:5], ErrMeshCorrupt},
		{"magic", corrupt(func(b []byte) []byte { b[0] = 'X'; return b }), ErrMeshCorrupt},
		{"version", corrupt(func(b []byte) []byte { b[4] = 9; return b }), ErrMeshVersion},
		{"size", corrupt(func(b []byte) []byte { b[5] = 4; return b }), ErrMeshSize},
		{"checksum", corrupt(func(b []byte) []byte { b[9] ^= 0x01; return b }), ErrMeshChecksum},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, DecodeMesh(tt.data, target), tt.err)
			assert.Equal(t, 9.0, target.At(0, 0), "mesh untouched")
			assert.False(t, target.Valid())
		})
	}

	other, err := NewMesh(standalone.MeshConfig{MaxX: 20, MaxY: 20, CountX: 3, CountY: 4})
	require.NoError(t, err)
	assert.ErrorIs(t, DecodeMesh(blob, other), ErrMeshSize)
}

func TestVLQ(t *testing.T) {
	for _, v := range []int32{0, 1, -1, 31, -32, 95, 96, -33, 1000, -1000, 1 << 20, -(1 << 20), 400000000, -400000000} {
		buf := appendVLQ(nil, v)
		got, n, err := readVLQ(buf)
		require.NoError(t, err)
		assert.Equal(t, v, got)
		assert.Equal(t, len(buf), n)
	}
	_, _, err := readVLQ([]byte{0x81})
	assert.ErrorIs(t, err, ErrMeshCorrupt)
}

func TestCRC16(t *testing.T) {
	// CRC-16/MCRF4XX check value
	assert.Equal(t, uint16(0x6F91), crc16([]byte("123456789")))
}

type gridProber struct {
	surface func(x, y float64) float64
	visits  [][2]float64
	failAt  int
}

func (g *gridProber) Probe(ctx context.Context, x, y float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	g.visits = append(g.visits, [2]float64{x, y})
	if g.failAt > 0 && len(g.visits) == g.failAt {
		return 0, errors.New("no trigger")
	}
	return g.surface(x, y), nil
}

func TestCalibrate(t *testing.T) {
	m, err := NewMesh(standalone.MeshConfig{MinX: 10, MinY: 10, MaxX: 30, MaxY: 20, CountX: 3, CountY: 2})
	require.NoError(t, err)

	p := &gridProber{surface: func(x, y float64) float64 { return 0.01*x - 0.02*y }}
	require.NoError(t, Calibrate(context.Background(), p, m))
	assert.True(t, m.Valid())

	// Serpentine: row 0 left to right, row 1 right to left
	assert.Equal(t, [][2]float64{{10, 10}, {20, 10}, {30, 10}, {30, 20}, {20, 20}, {10, 20}}, p.visits)
	// A planar surface interpolates exactly
	assert.InDelta(t, 0.01*17-0.02*13, m.ZAt(17, 13), 1e-12)

	st := m.Stats()
	assert.InDelta(t, -0.3, st.Min, 1e-12)
	assert.InDelta(t, 0.1, st.Max, 1e-12)
	assert.InDelta(t, 0.4, st.Range, 1e-12)
	assert.InDelta(t, -0.1, st.Mean, 1e-12)
}

func TestCalibrateFailure(t *testing.T) {
	m, err := NewMesh(standalone.MeshConfig{MaxX: 20, MaxY: 20, CountX: 3, CountY: 3})
	require.NoError(t, err)
	m.SetValid()

	p := &gridProber{surface: func(x, y float64) float64 { return 0 }, failAt: 5}
	err = Calibrate(context.Background(), p, m)

	var pe *ProbeError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, 1, pe.IX)
	assert.Equal(t, 1, pe.IY)
	assert.False(t, m.Valid())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = Calibrate(ctx, &gridProber{surface: p.surface}, m)
	assert.ErrorIs(t, err, context.Canceled)
}
