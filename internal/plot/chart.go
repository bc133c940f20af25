package plot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

var (
	colRaw        = color.RGBA{R: 52, G: 152, B: 219, A: 255} // blue
	colTrain      = color.RGBA{R: 0, G: 255, B: 0, A: 204}    // lime
	colValidation = color.RGBA{R: 255, G: 0, B: 255, A: 204}  // magenta
	colTest       = color.RGBA{R: 231, G: 76, B: 60, A: 204}  // red
	colSeparator  = color.RGBA{R: 0, G: 0, B: 0, A: 255}
)

// TrainingChart compares predictions on each split with the target series.
// Prediction curves are drawn Horizon samples to the left of their target
// index so a curve lines up with the moment the forecast was made.
type TrainingChart struct {
	Title            string
	Truth            []float64
	Horizon          int
	ValidationOffset int
	TestOffset       int

	Train      []float64
	Validation []float64
	Test       []float64
}

func series(values []float64, start int) plotter.XYs {
	pts := make(plotter.XYs, len(values))
	for i, v := range values {
		pts[i].X = float64(start + i)
		pts[i].Y = v
	}
	return pts
}

func bounds(groups ...[]float64) (float64, float64) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, g := range groups {
		for _, v := range g {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
	}
	if math.IsInf(lo, 1) {
		return 0, 1
	}
	if lo == hi {
		hi = lo + 1
	}
	return lo, hi
}

func addLine(p *plot.Plot, pts plotter.XYs, col color.Color, width float64, legend string) error {
	if len(pts) == 0 {
		return nil
	}
	line, err := plotter.NewLine(pts)
	if err != nil {
		return err
	}
	line.LineStyle.Color = col
	line.LineStyle.Width = vg.Points(width)
	p.Add(line)
	if legend != "" {
		p.Legend.Add(legend, line)
	}
	return nil
}

func addSeparator(p *plot.Plot, x, lo, hi float64) error {
	sep, err := plotter.NewLine(plotter.XYs{{X: x, Y: lo}, {X: x, Y: hi}})
	if err != nil {
		return err
	}
	sep.LineStyle.Color = colSeparator
	sep.LineStyle.Width = vg.Points(1)
	sep.LineStyle.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	p.Add(sep)
	return nil
}

// Render writes the chart as an image; the format follows the extension.
func (c *TrainingChart) Render(filename string) error {
	p := plot.New()
	p.Title.Text = c.Title
	p.X.Label.Text = "sample"
	p.Y.Label.Text = "target"
	p.BackgroundColor = color.White

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 220}
	grid.Horizontal.Color = color.Gray{Y: 220}
	p.Add(grid)

	lo, hi := bounds(c.Truth)

	if err := addLine(p, series(c.Truth, 0), colRaw, 1, "truth"); err != nil {
		return err
	}
	if err := addLine(p, series(c.Train, -c.Horizon), colTrain, 1, "train"); err != nil {
		return err
	}
	if err := addLine(p, series(c.Validation, c.ValidationOffset-c.Horizon), colValidation, 1, "validation"); err != nil {
		return err
	}
	if err := addLine(p, series(c.Test, c.TestOffset-c.Horizon), colTest, 1, "test"); err != nil {
		return err
	}

	if c.ValidationOffset > 0 {
		if err := addSeparator(p, float64(c.ValidationOffset), lo, hi); err != nil {
			return err
		}
	}
	if c.TestOffset > c.ValidationOffset {
		if err := addSeparator(p, float64(c.TestOffset), lo, hi); err != nil {
			return err
		}
	}

	pad := (hi - lo) * 0.1
	p.Y.Min = lo - pad
	p.Y.Max = hi + pad
	p.Legend.Top = true
	p.Legend.Left = true

	if err := p.Save(16*vg.Inch, 8*vg.Inch, filename); err != nil {
		return fmt.Errorf("save chart %s: %w", filename, err)
	}
	return nil
}
