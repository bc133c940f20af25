package plot

import (
	"fmt"
	"image/color"
	"time"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// WalkForwardFrame is one position of a walk-forward evaluation: the series
// so far, the series still to come, and the forecast made at Cursor.
type WalkForwardFrame struct {
	Title    string
	Series   []float64
	Cursor   int
	CursorAt time.Time
	Forecast []float64
	// Padding is how many rows to show either side of the cursor.
	Padding int
}

func (f *WalkForwardFrame) Render(filename string) error {
	p := plot.New()
	p.Title.Text = f.Title
	p.BackgroundColor = color.White

	grid := plotter.NewGrid()
	grid.Vertical.Color = color.Gray{Y: 230}
	grid.Horizontal.Color = color.Gray{Y: 230}
	p.Add(grid)

	lo, hi := bounds(f.Series, f.Forecast)

	future := color.RGBA{R: 52, G: 152, B: 219, A: 100}
	if err := addLine(p, series(f.Series, 0), future, 1, ""); err != nil {
		return err
	}
	past := f.Series
	if f.Cursor < len(past) {
		past = past[:f.Cursor]
	}
	if err := addLine(p, series(past, 0), colRaw, 1.5, "history"); err != nil {
		return err
	}
	if err := addLine(p, series(f.Forecast, f.Cursor), colTest, 1.5, "forecast"); err != nil {
		return err
	}
	if err := addSeparator(p, float64(f.Cursor-1), lo, hi); err != nil {
		return err
	}

	label := fmt.Sprintf("row %d", f.Cursor)
	if f.Cursor < len(f.Series) {
		label = fmt.Sprintf("row %d\nvalue %.4f\n%s", f.Cursor, f.Series[f.Cursor], f.CursorAt.Format("2006-01-02 15:04"))
	}
	labels, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    plotter.XYs{{X: float64(f.Cursor + 2), Y: hi - (hi-lo)*0.15}},
		Labels: []string{label},
	})
	if err != nil {
		return err
	}
	p.Add(labels)

	padding := f.Padding
	if padding <= 0 {
		padding = 50
	}
	p.X.Min = float64(f.Cursor - padding)
	p.X.Max = float64(f.Cursor + padding)
	p.Y.Min = lo
	p.Y.Max = hi
	p.Legend.Top = true

	if err := p.Save(16*vg.Inch, 8*vg.Inch, filename); err != nil {
		return fmt.Errorf("save chart %s: %w", filename, err)
	}
	return nil
}
