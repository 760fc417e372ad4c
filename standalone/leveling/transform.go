package leveling

import (
	"stepcore/standalone"
)

// MoveFunc receives each corrected sub-move; the planner's PlanMove fits
type MoveFunc func(target standalone.Position, feedrate float64) error

// Transform applies mesh height correction to straight moves
type Transform struct {
	mesh     *Mesh
	splitter *Splitter
}

// NewTransform creates a transform over mesh
func NewTransform(mesh *Mesh) *Transform {
	return &Transform{mesh: mesh, splitter: NewSplitter(mesh)}
}

// Mesh returns the mesh the transform reads
func (t *Transform) Mesh() *Mesh {
	return t.mesh
}

// Apply splits start→end at grid lines and emits every sub-move end point
// raised by the interpolated bed height. It stops at the first emit error.
func (t *Transform) Apply(start, end standalone.Position, feedrate float64, emit MoveFunc) error {
	targets, err := t.Targets(start, end)
	if err != nil {
		return err
	}
	for _, p := range targets {
		if err := emit(p, feedrate); err != nil {
			return err
		}
	}
	return nil
}

// Targets returns the corrected end point of every sub-move of start→end,
// in path order, so callers can vet the whole move before queueing any of it
func (t *Transform) Targets(start, end standalone.Position) ([]standalone.Position, error) {
	if !t.mesh.Valid() {
		return nil, ErrMeshInvalid
	}
	segs := t.splitter.Split(start, end)
	out := make([]standalone.Position, len(segs))
	for i, seg := range segs {
		out[i] = t.Correct(seg.End)
	}
	return out, nil
}

// Correct raises p by the bed height under it
func (t *Transform) Correct(p standalone.Position) standalone.Position {
	p.Z += t.mesh.ZAt(p.X, p.Y)
	return p
}

// Uncorrect is the inverse of Correct
func (t *Transform) Uncorrect(p standalone.Position) standalone.Position {
	p.Z -= t.mesh.ZAt(p.X, p.Y)
	return p
}
