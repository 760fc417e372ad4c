package report

import (
	"fmt"
	"strings"

	"stepcore/standalone"
	"stepcore/standalone/leveling"
)

// FormatStatus renders a machine state as a single status line
func FormatStatus(st *standalone.MachineState) string {
	if st == nil {
		return "state: unavailable"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "pos X:%.3f Y:%.3f Z:%.3f E:%.3f", st.Position.X, st.Position.Y, st.Position.Z, st.Position.E)
	fmt.Fprintf(&b, " | buf %d/%d %s", st.BufferFill, st.BufferCapacity, st.Phase)
	if st.Moving {
		b.WriteString(" moving")
	}
	if st.LevelingActive {
		b.WriteString(" leveled")
	}
	fmt.Fprintf(&b, " blocks=%d", st.BlocksExecuted)
	if st.Fault != "" {
		fmt.Fprintf(&b, " FAULT: %s", st.Fault)
	}
	return b.String()
}

// FormatMesh renders the mesh as a text grid, highest Y row first so it
// reads like the bed seen from above
func FormatMesh(m *leveling.Mesh) string {
	cfg := m.Config()
	var b strings.Builder
	for iy := cfg.CountY - 1; iy >= 0; iy-- {
		fmt.Fprintf(&b, "%7.1f |", m.PointY(iy))
		for ix := 0; ix < cfg.CountX; ix++ {
			fmt.Fprintf(&b, " %+.3f", m.At(ix, iy))
		}
		b.WriteByte('\n')
	}
	b.WriteString("        +")
	for ix := 0; ix < cfg.CountX; ix++ {
		fmt.Fprintf(&b, " %6.1f", m.PointX(ix))
	}
	b.WriteByte('\n')
	st := m.Stats()
	fmt.Fprintf(&b, "min %+.3f max %+.3f range %.3f stddev %.4f\n", st.Min, st.Max, st.Range, st.StdDev)
	return b.String()
}
