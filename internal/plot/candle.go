package plot

import (
	"fmt"
	"image/color"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"stock-lstm-research/internal/features"
)

// Dark exchange palette used by the live candle chart.
var (
	BgDark    = color.RGBA{R: 22, G: 26, B: 37, A: 255}    // #161a25
	GridDark  = color.RGBA{R: 43, G: 47, B: 58, A: 255}    // #2b2f3a
	TextLight = color.RGBA{R: 183, G: 189, B: 198, A: 255} // #b7bdc6
	CandleUp  = color.RGBA{R: 14, G: 203, B: 129, A: 255}  // #0ecb81
	CandleDn  = color.RGBA{R: 246, G: 70, B: 93, A: 255}   // #f6465d
	Forecast  = color.RGBA{R: 52, G: 152, B: 219, A: 255}
)

var maColors = []color.RGBA{
	{R: 240, G: 185, B: 11, A: 255},
	{R: 160, G: 32, B: 240, A: 255},
	{R: 216, G: 64, B: 174, A: 255},
	{R: 120, G: 200, B: 255, A: 255},
}

type OHLC struct {
	Open, High, Low, Close float64
}

// Candles draws OHLC bars at x = 0..len-1.
type Candles struct {
	Data []OHLC
}

func (c *Candles) Plot(canvas draw.Canvas, plt *plot.Plot) {
	trX, trY := plt.Transforms(&canvas)

	w := canvas.Rectangle.Max.X - canvas.Rectangle.Min.X
	barWidth := (w / vg.Length(len(c.Data))) * 0.6

	for i, d := range c.Data {
		x := trX(float64(i))

		col := CandleDn
		if d.Close >= d.Open {
			col = CandleUp
		}

		canvas.StrokeLine2(draw.LineStyle{Color: col, Width: vg.Points(1)}, x, trY(d.Low), x, trY(d.High))

		top := math.Max(d.Open, d.Close)
		bottom := math.Min(d.Open, d.Close)
		if top == bottom {
			top += 0.00001 // doji
		}
		rect := vg.Rectangle{
			Min: vg.Point{X: x - barWidth/2, Y: trY(bottom)},
			Max: vg.Point{X: x + barWidth/2, Y: trY(top)},
		}
		canvas.SetColor(col)
		canvas.Fill(rect.Path())
	}
}

func (c *Candles) DataRange() (xmin, xmax, ymin, ymax float64) {
	ymin = math.Inf(1)
	ymax = math.Inf(-1)
	for _, d := range c.Data {
		if d.Low < ymin {
			ymin = d.Low
		}
		if d.High > ymax {
			ymax = d.High
		}
	}
	return 0, float64(len(c.Data)), ymin, ymax
}

func (c *Candles) GlyphBoxes(plt *plot.Plot) []plot.GlyphBox { return nil }

// CandleChart is the live view: recent candles, their moving averages and
// the model's forecast for the close drawn past the last bar.
type CandleChart struct {
	Title    string
	Candles  []features.Candle
	Periods  []int
	Forecast []float64
}

func (c *CandleChart) Render(filename string) error {
	if len(c.Candles) == 0 {
		return fmt.Errorf("no candles to draw")
	}

	p := plot.New()
	p.BackgroundColor = BgDark
	p.Title.Text = c.Title
	p.Title.TextStyle.Color = TextLight
	p.X.Tick.Label.Color = TextLight
	p.Y.Tick.Label.Color = TextLight
	p.X.Tick.LineStyle.Color = TextLight
	p.Y.Tick.LineStyle.Color = TextLight

	grid := plotter.NewGrid()
	grid.Vertical.Color = GridDark
	grid.Horizontal.Color = GridDark
	p.Add(grid)

	ohlc := make([]OHLC, len(c.Candles))
	closes := make([]float64, len(c.Candles))
	for i, k := range c.Candles {
		ohlc[i] = OHLC{Open: k.Open, High: k.High, Low: k.Low, Close: k.Close}
		closes[i] = k.Close
	}
	p.Add(&Candles{Data: ohlc})

	periods := c.Periods
	if periods == nil {
		periods = features.Periods
	}
	for k, period := range periods {
		ma, err := features.SMA(closes, period)
		if err != nil {
			return err
		}
		// partial windows at the head are noise on a chart
		from := period - 1
		if from >= len(ma) {
			continue
		}
		if err := addLine(p, series(ma[from:], from), maColors[k%len(maColors)], 1.5, fmt.Sprintf("MA(%d)", period)); err != nil {
			return err
		}
	}

	if len(c.Forecast) > 0 {
		path := append([]float64{closes[len(closes)-1]}, c.Forecast...)
		if err := addLine(p, series(path, len(closes)-1), Forecast, 2, "forecast"); err != nil {
			return err
		}
	}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.Padding = vg.Points(5)
	p.Legend.TextStyle.Color = TextLight
	p.Legend.TextStyle.Font.Size = vg.Points(10)
	p.Legend.ThumbnailWidth = vg.Points(20)

	if err := p.Save(12*vg.Inch, 6*vg.Inch, filename); err != nil {
		return fmt.Errorf("save chart %s: %w", filename, err)
	}
	return nil
}
