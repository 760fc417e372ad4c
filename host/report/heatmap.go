package report

import (
	"bytes"
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"stepcore/standalone/leveling"
)

var viridis = []string{"#440154", "#482777", "#3e4989", "#31688e", "#26828e", "#1f9e89", "#35b779", "#6ece58", "#b5de2b", "#fde725"}

// MeshHeatmap builds an HTML heatmap of the sampled bed heights. Cell
// values are in mm; the colour scale is symmetric around zero so high and
// low spots read the same.
func MeshHeatmap(title string, m *leveling.Mesh) *charts.HeatMap {
	cfg := m.Config()
	xs := make([]string, cfg.CountX)
	for ix := range xs {
		xs[ix] = fmt.Sprintf("%.1f", m.PointX(ix))
	}
	ys := make([]string, cfg.CountY)
	for iy := range ys {
		ys[iy] = fmt.Sprintf("%.1f", m.PointY(iy))
	}

	data := make([]opts.HeatMapData, 0, cfg.CountX*cfg.CountY)
	for iy := 0; iy < cfg.CountY; iy++ {
		for ix := 0; ix < cfg.CountX; ix++ {
			z := m.At(ix, iy)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{ix, iy, fmt.Sprintf("%.3f", z)}})
		}
	}

	st := m.Stats()
	limit := max(-st.Min, st.Max, 0.01)

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "900px", Height: "800px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    title,
			Subtitle: fmt.Sprintf("range=%.3f mm mean=%.3f mm valid=%t", st.Range, st.Mean, m.Valid()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: "X (mm)", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: "Y (mm)", NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(-limit),
			Max:        float32(limit),
			InRange:    &opts.VisualMapInRange{Color: viridis},
		}),
	)
	hm.AddSeries("z", data, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}))
	return hm
}

// WriteMeshHeatmap renders the mesh heatmap page to w
func WriteMeshHeatmap(w io.Writer, title string, m *leveling.Mesh) error {
	var buf bytes.Buffer
	if err := MeshHeatmap(title, m).Render(&buf); err != nil {
		return fmt.Errorf("render mesh heatmap: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
