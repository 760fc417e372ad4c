package leveling

import (
	"stepcore/standalone"
)

// Segment is one straight sub-move that stays inside a single mesh cell
type Segment struct {
	Start standalone.Position
	End   standalone.Position
}

// Splitter cuts moves at mesh grid lines. It reuses its buffers, so one
// Splitter must not be shared between goroutines.
type Splitter struct {
	mesh  *Mesh
	stack []Segment
	out   []Segment
}

// NewSplitter creates a splitter for mesh
func NewSplitter(mesh *Mesh) *Splitter {
	n := mesh.cfg.CountX + mesh.cfg.CountY
	return &Splitter{
		mesh:  mesh,
		stack: make([]Segment, 0, n),
		out:   make([]Segment, 0, n),
	}
}

// Split returns the sub-segments of start→end in path order. Each interior
// grid line crossed strictly inside the move produces one cut; Z and E are
// interpolated at the crossing fraction. The returned slice is reused by
// the next call.
func (s *Splitter) Split(start, end standalone.Position) []Segment {
	s.out = s.out[:0]
	s.stack = append(s.stack[:0], Segment{start, end})

	for len(s.stack) > 0 {
		seg := s.stack[len(s.stack)-1]
		s.stack = s.stack[:len(s.stack)-1]

		mid, ok := s.cut(seg)
		if !ok {
			s.out = append(s.out, seg)
			continue
		}
		// Later half first so the earlier half pops next
		s.stack = append(s.stack, Segment{mid, seg.End}, Segment{seg.Start, mid})
	}
	return s.out
}

// cut finds an interior grid line strictly inside seg and returns the
// crossing point
func (s *Splitter) cut(seg Segment) (standalone.Position, bool) {
	m := s.mesh
	a, b := seg.Start, seg.End

	if ix, ok := crossing(a.X, b.X, m.cfg.CountX, m.PointX); ok {
		line := m.PointX(ix)
		mid := a.Lerp(b, (line-a.X)/(b.X-a.X))
		mid.X = line
		return mid, true
	}
	if iy, ok := crossing(a.Y, b.Y, m.cfg.CountY, m.PointY); ok {
		line := m.PointY(iy)
		mid := a.Lerp(b, (line-a.Y)/(b.Y-a.Y))
		mid.Y = line
		return mid, true
	}
	return standalone.Position{}, false
}

// crossing returns the first interior grid line strictly between v0 and v1
func crossing(v0, v1 float64, count int, point func(int) float64) (int, bool) {
	lo, hi := v0, v1
	if lo > hi {
		lo, hi = hi, lo
	}
	for i := 1; i < count-1; i++ {
		p := point(i)
		if p > lo+gridEps && p < hi-gridEps {
			return i, true
		}
	}
	return 0, false
}
