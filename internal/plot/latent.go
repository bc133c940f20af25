package plot

import (
	"fmt"
	"image/color"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
)

// LatentScatter plots 2-D encoder outputs coloured by their target value.
// The DropTop highest targets are left out so a few spikes do not flatten
// the colour range.
type LatentScatter struct {
	Title   string
	Codes   [][]float64
	Targets []float64
	DropTop int
}

func (s *LatentScatter) Render(filename string) error {
	if len(s.Codes) != len(s.Targets) {
		return fmt.Errorf("%d codes but %d targets", len(s.Codes), len(s.Targets))
	}

	order := make([]int, len(s.Targets))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool { return s.Targets[order[a]] < s.Targets[order[b]] })
	keep := len(order) - s.DropTop
	if keep < 1 {
		keep = len(order)
	}
	order = order[:keep]

	pts := make(plotter.XYs, 0, len(order))
	vals := make([]float64, 0, len(order))
	for _, i := range order {
		if len(s.Codes[i]) < 2 {
			return fmt.Errorf("code %d has %d dimensions, need 2", i, len(s.Codes[i]))
		}
		pts = append(pts, plotter.XY{X: s.Codes[i][0], Y: s.Codes[i][1]})
		vals = append(vals, s.Targets[i])
	}
	lo, hi := bounds(vals)

	p := plot.New()
	p.Title.Text = s.Title
	p.X.Label.Text = "code[0]"
	p.Y.Label.Text = "code[1]"
	p.BackgroundColor = color.White

	scatter, err := plotter.NewScatter(pts)
	if err != nil {
		return err
	}
	scatter.GlyphStyleFunc = func(i int) draw.GlyphStyle {
		return draw.GlyphStyle{
			Color:  heat((vals[i] - lo) / (hi - lo)),
			Radius: vg.Points(2),
			Shape:  draw.CircleGlyph{},
		}
	}
	p.Add(scatter)

	if err := p.Save(10*vg.Inch, 8*vg.Inch, filename); err != nil {
		return fmt.Errorf("save chart %s: %w", filename, err)
	}
	return nil
}

// heat maps [0,1] from blue through green to red.
func heat(t float64) color.Color {
	if t < 0 {
		t = 0
	}
	if t > 1 {
		t = 1
	}
	if t < 0.5 {
		k := t * 2
		return color.RGBA{R: 0, G: uint8(255 * k), B: uint8(255 * (1 - k)), A: 255}
	}
	k := (t - 0.5) * 2
	return color.RGBA{R: uint8(255 * k), G: uint8(255 * (1 - k)), B: 0, A: 255}
}
