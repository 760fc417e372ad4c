package leveling

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"stepcore/standalone"
)

var (
	ErrMeshInvalid = errors.New("mesh not calibrated")
	ErrMeshConfig  = errors.New("invalid mesh geometry")
	ErrMeshIndex   = errors.New("mesh point out of range")
)

// gridEps absorbs rounding when a coordinate lies on a grid line
const gridEps = 1e-9

// Mesh is a grid of bed heights over evenly spaced X/Y probe points.
// Row index is Y, column index is X; both grow with physical position.
type Mesh struct {
	cfg      standalone.MeshConfig
	z        *mat.Dense
	spacingX float64
	spacingY float64
	valid    bool
	version  uint32
}

// NewMesh creates an all-zero, uncalibrated mesh
func NewMesh(cfg standalone.MeshConfig) (*Mesh, error) {
	if cfg.CountX < 2 || cfg.CountY < 2 || cfg.MaxX <= cfg.MinX || cfg.MaxY <= cfg.MinY {
		return nil, ErrMeshConfig
	}
	return &Mesh{
		cfg:      cfg,
		z:        mat.NewDense(cfg.CountY, cfg.CountX, nil),
		spacingX: (cfg.MaxX - cfg.MinX) / float64(cfg.CountX-1),
		spacingY: (cfg.MaxY - cfg.MinY) / float64(cfg.CountY-1),
	}, nil
}

// Config returns the grid geometry
func (m *Mesh) Config() standalone.MeshConfig {
	return m.cfg
}

// PointX returns the X coordinate of grid column ix
func (m *Mesh) PointX(ix int) float64 {
	return m.cfg.MinX + float64(ix)*m.spacingX
}

// PointY returns the Y coordinate of grid row iy
func (m *Mesh) PointY(iy int) float64 {
	return m.cfg.MinY + float64(iy)*m.spacingY
}

// At returns the height sampled at grid point (ix, iy)
func (m *Mesh) At(ix, iy int) float64 {
	return m.z.At(iy, ix)
}

// Set edits a single grid point. The mesh keeps its validity.
func (m *Mesh) Set(ix, iy int, z float64) error {
	if ix < 0 || iy < 0 || ix >= m.cfg.CountX || iy >= m.cfg.CountY {
		return ErrMeshIndex
	}
	if math.IsNaN(z) || math.IsInf(z, 0) {
		return ErrMeshIndex
	}
	m.z.Set(iy, ix, z)
	m.version++
	return nil
}

// Fill sets every point to z
func (m *Mesh) Fill(z float64) {
	for iy := 0; iy < m.cfg.CountY; iy++ {
		for ix := 0; ix < m.cfg.CountX; ix++ {
			m.z.Set(iy, ix, z)
		}
	}
	m.version++
}

// SetValid marks the mesh as calibrated
func (m *Mesh) SetValid() {
	m.valid = true
	m.version++
}

// Invalidate marks the mesh as unusable for leveled moves
func (m *Mesh) Invalidate() {
	m.valid = false
	m.version++
}

// Valid reports whether the mesh may be applied
func (m *Mesh) Valid() bool {
	return m.valid
}

// Version changes on every edit
func (m *Mesh) Version() uint32 {
	return m.version
}

// cellIndex maps a coordinate to the cell whose lower edge is at or below
// it. A point on a grid line belongs to the lower cell; points outside the
// grid clamp to the first or last cell.
func cellIndex(v, min, spacing float64, count int) int {
	idx := int(math.Ceil((v-min)/spacing-gridEps)) - 1
	if idx < 0 {
		return 0
	}
	if idx > count-2 {
		return count - 2
	}
	return idx
}

// CellX returns the cell column containing x
func (m *Mesh) CellX(x float64) int {
	return cellIndex(x, m.cfg.MinX, m.spacingX, m.cfg.CountX)
}

// CellY returns the cell row containing y
func (m *Mesh) CellY(y float64) int {
	return cellIndex(y, m.cfg.MinY, m.spacingY, m.cfg.CountY)
}

// ZAt bilinearly interpolates the height at (x, y) from the four corners of
// its cell. Outside the grid the edge cell's value at the border is used.
func (m *Mesh) ZAt(x, y float64) float64 {
	ix, iy := m.CellX(x), m.CellY(y)
	tx := clamp01((x - m.PointX(ix)) / m.spacingX)
	ty := clamp01((y - m.PointY(iy)) / m.spacingY)

	z00 := m.At(ix, iy)
	z10 := m.At(ix+1, iy)
	z01 := m.At(ix, iy+1)
	z11 := m.At(ix+1, iy+1)

	z0 := z00 + (z10-z00)*tx
	z1 := z01 + (z11-z01)*tx
	return z0 + (z1-z0)*ty
}

func clamp01(t float64) float64 {
	if t < 0 {
		return 0
	}
	if t > 1 {
		return 1
	}
	return t
}

// Values returns a copy of the grid, rows indexed by Y
func (m *Mesh) Values() [][]float64 {
	out := make([][]float64, m.cfg.CountY)
	for iy := range out {
		out[iy] = mat.Row(nil, iy, m.z)
	}
	return out
}

// Stats summarises the calibrated surface
type Stats struct {
	Min    float64
	Max    float64
	Mean   float64
	StdDev float64
	Range  float64
}

// Stats computes the spread of the sampled heights
func (m *Mesh) Stats() Stats {
	data := make([]float64, 0, m.cfg.CountX*m.cfg.CountY)
	for iy := 0; iy < m.cfg.CountY; iy++ {
		data = append(data, mat.Row(nil, iy, m.z)...)
	}
	mean, std := stat.MeanStdDev(data, nil)
	lo, hi := floats.Min(data), floats.Max(data)
	return Stats{Min: lo, Max: hi, Mean: mean, StdDev: std, Range: hi - lo}
}
