package leveling

import (
	"context"
	"strconv"
)

// Prober measures the bed height at a point. Implementations move the
// toolhead and trigger the probe; heights are relative to the probe's
// reference.
type Prober interface {
	Probe(ctx context.Context, x, y float64) (float64, error)
}

// ProbeError identifies the grid point where calibration failed
type ProbeError struct {
	IX, IY int
	X, Y   float64
	Err    error
}

func (e *ProbeError) Error() string {
	return "probe failed at point (" + strconv.Itoa(e.IX) + "," + strconv.Itoa(e.IY) + "): " + e.Err.Error()
}

func (e *ProbeError) Unwrap() error {
	return e.Err
}

// ProbeOrder returns the grid points in serpentine order: even rows left
// to right, odd rows right to left
func ProbeOrder(countX, countY int) [][2]int {
	order := make([][2]int, 0, countX*countY)
	for iy := 0; iy < countY; iy++ {
		for i := 0; i < countX; i++ {
			ix := i
			if iy%2 == 1 {
				ix = countX - 1 - i
			}
			order = append(order, [2]int{ix, iy})
		}
	}
	return order
}

// Calibrate probes every grid point and marks the mesh valid. The mesh is
// invalid while probing and stays invalid if any point fails.
func Calibrate(ctx context.Context, p Prober, m *Mesh) error {
	m.Invalidate()
	for _, pt := range ProbeOrder(m.cfg.CountX, m.cfg.CountY) {
		ix, iy := pt[0], pt[1]
		x, y := m.PointX(ix), m.PointY(iy)
		z, err := p.Probe(ctx, x, y)
		if err != nil {
			return &ProbeError{IX: ix, IY: iy, X: x, Y: y, Err: err}
		}
		if err := m.Set(ix, iy, z); err != nil {
			return &ProbeError{IX: ix, IY: iy, X: x, Y: y, Err: err}
		}
	}
	m.SetValid()
	return nil
}
