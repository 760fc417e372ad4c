package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"stepcore/standalone/planner"
)

// ProfilePoints converts executed blocks into a speed-over-distance polyline:
// entry, end of acceleration, end of plateau and exit of every block
func ProfilePoints(blocks []planner.BlockInfo) plotter.XYs {
	pts := make(plotter.XYs, 0, 4*len(blocks))
	dist := 0.0
	for _, b := range blocks {
		if b.StepEventCount == 0 {
			continue
		}
		mmPerStep := b.Millimeters / float64(b.StepEventCount)
		accelMM := float64(b.AccelSteps) * mmPerStep
		plateauMM := float64(b.PlateauSteps) * mmPerStep
		cruise := math.Min(b.NominalSpeed, math.Sqrt(b.EntrySpeed*b.EntrySpeed+2*b.Acceleration*accelMM))

		pts = append(pts,
			plotter.XY{X: dist, Y: b.EntrySpeed},
			plotter.XY{X: dist + accelMM, Y: cruise},
			plotter.XY{X: dist + accelMM + plateauMM, Y: cruise},
			plotter.XY{X: dist + b.Millimeters, Y: b.ExitSpeed},
		)
		dist += b.Millimeters
	}
	return pts
}

// VelocityPlot builds the speed profile plot of a block sequence, with the
// nominal speeds drawn as a step line for reference
func VelocityPlot(title string, blocks []planner.BlockInfo) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Distance (mm)"
	p.Y.Label.Text = "Speed (mm/s)"
	p.Add(plotter.NewGrid())

	nominal := make(plotter.XYs, 0, 2*len(blocks))
	dist := 0.0
	for _, b := range blocks {
		nominal = append(nominal,
			plotter.XY{X: dist, Y: b.NominalSpeed},
			plotter.XY{X: dist + b.Millimeters, Y: b.NominalSpeed})
		dist += b.Millimeters
	}

	if len(nominal) > 0 {
		nomLine, err := plotter.NewLine(nominal)
		if err != nil {
			return nil, err
		}
		nomLine.Color = color.RGBA{R: 180, G: 180, B: 180, A: 255}
		nomLine.Width = vg.Points(1)
		nomLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
		p.Add(nomLine)
		p.Legend.Add("nominal", nomLine)

		speedLine, err := plotter.NewLine(ProfilePoints(blocks))
		if err != nil {
			return nil, err
		}
		speedLine.Color = color.RGBA{R: 31, G: 119, B: 180, A: 255}
		speedLine.Width = vg.Points(1.5)
		p.Add(speedLine)
		p.Legend.Add("planned", speedLine)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10
	return p, nil
}

// WriteVelocityPNG renders the velocity plot of blocks as PNG to w
func WriteVelocityPNG(w io.Writer, title string, blocks []planner.BlockInfo) error {
	p, err := VelocityPlot(title, blocks)
	if err != nil {
		return fmt.Errorf("build velocity plot: %w", err)
	}
	wt, err := p.WriterTo(10*vg.Inch, 4*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("render velocity plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write velocity plot: %w", err)
	}
	return nil
}

// SaveVelocityPNG writes the velocity plot of blocks to path
func SaveVelocityPNG(path, title string, blocks []planner.BlockInfo) error {
	p, err := VelocityPlot(title, blocks)
	if err != nil {
		return fmt.Errorf("build velocity plot: %w", err)
	}
	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("save velocity plot: %w", err)
	}
	Logf("velocity plot: %d blocks -> %s", len(blocks), path)
	return nil
}
