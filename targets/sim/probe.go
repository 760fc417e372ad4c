package sim

import (
	"context"
	"errors"
)

var ErrProbeMiss = errors.New("probe did not trigger")

// Probe reports the height of a scripted bed surface
type Probe struct {
	Surface func(x, y float64) float64
	Offset  float64 // Added to every reading

	// Miss makes the probe fail at a point
	Miss func(x, y float64) bool

	Points int
}

// Probe returns the surface height at (x, y)
func (p *Probe) Probe(ctx context.Context, x, y float64) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p.Points++
	if p.Miss != nil && p.Miss(x, y) {
		return 0, ErrProbeMiss
	}
	z := p.Offset
	if p.Surface != nil {
		z += p.Surface(x, y)
	}
	return z, nil
}

// Tilted returns a planar surface z = ax*x + ay*y + c
func Tilted(ax, ay, c float64) func(x, y float64) float64 {
	return func(x, y float64) float64 {
		return ax*x + ay*y + c
	}
}
