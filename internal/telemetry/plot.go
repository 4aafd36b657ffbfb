package telemetry

import (
	"errors"
	"fmt"
	"image/color"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned when there is nothing to plot.
var ErrNoSamples = errors.New("no samples")

// SavePlot writes a PNG (or any format gonum/plot infers from the file
// extension) of command and motor over time.
func SavePlot(path, title string, samples []Sample) error {
	if len(samples) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "t (s)"
	p.Y.Label.Text = "angle"
	p.Y.Min, p.Y.Max = 0, 180
	p.Add(plotter.NewGrid())

	cmdPts := make(plotter.XYs, len(samples))
	motorPts := make(plotter.XYs, len(samples))
	var posPts plotter.XYs
	for i, s := range samples {
		t := float64(s.TMillis) / 1000
		cmdPts[i] = plotter.XY{X: t, Y: float64(s.Command)}
		motorPts[i] = plotter.XY{X: t, Y: float64(s.Motor)}
		if s.Position != nil {
			posPts = append(posPts, plotter.XY{X: t, Y: *s.Position})
		}
	}

	series := []struct {
		name  string
		pts   plotter.XYs
		color color.Color
	}{
		{"command", cmdPts, color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff}},
		{"motor", motorPts, color.RGBA{R: 0xd6, G: 0x27, B: 0x28, A: 0xff}},
		{"position", posPts, color.RGBA{R: 0x2c, G: 0xa0, B: 0x2c, A: 0xff}},
	}
	for _, s := range series {
		if len(s.pts) == 0 {
			continue
		}
		l, err := plotter.NewLine(s.pts)
		if err != nil {
			return fmt.Errorf("%s line: %w", s.name, err)
		}
		l.Width = vg.Points(1)
		l.Color = s.color
		p.Add(l)
		p.Legend.Add(s.name, l)
	}
	p.Legend.Top = true

	if err := p.Save(10*vg.Inch, 4*vg.Inch, path); err != nil {
		return fmt.Errorf("failed to save plot: %w", err)
	}
	return nil
}
