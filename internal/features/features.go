package features

import (
	"fmt"
	"time"

	"github.com/montanaflynn/stats"

	"stock-lstm-research/internal/dataset"
)

// Periods of the moving averages in the feature-extracted table.
var Periods = []int{5, 15, 25, 40}

// Candle is a raw 5-minute bar.
type Candle struct {
	Time   time.Time
	Open   float64
	High   float64
	Low    float64
	Close  float64
	Volume float64
}

// Columns lists the table layout Extract produces.
func Columns() []string {
	cols := []string{"open", "high", "low", "close", "vol"}
	for _, p := range Periods {
		cols = append(cols, fmt.Sprintf("ma%d", p))
	}
	for _, p := range Periods {
		cols = append(cols, fmt.Sprintf("ema_%d", p))
	}
	return cols
}

// Extract derives the moving-average columns from raw candles. Until a
// window is full the simple average covers the rows seen so far.
func Extract(candles []Candle) (*dataset.Table, error) {
	closes := make([]float64, len(candles))
	for i, c := range candles {
		closes[i] = c.Close
	}

	sma := make([][]float64, len(Periods))
	ema := make([][]float64, len(Periods))
	for k, p := range Periods {
		var err error
		if sma[k], err = SMA(closes, p); err != nil {
			return nil, err
		}
		ema[k] = EMA(closes, p)
	}

	tbl := dataset.NewTable(Columns())
	for i, c := range candles {
		row := []float64{c.Open, c.High, c.Low, c.Close, c.Volume}
		for k := range Periods {
			row = append(row, sma[k][i])
		}
		for k := range Periods {
			row = append(row, ema[k][i])
		}
		if err := tbl.Append(c.Time, row); err != nil {
			return nil, err
		}
	}
	return tbl, nil
}

// SMA is the trailing simple moving average.
func SMA(data []float64, period int) ([]float64, error) {
	if period < 1 {
		return nil, fmt.Errorf("period must be >= 1, got %d", period)
	}
	out := make([]float64, len(data))
	for i := range data {
		from := i - period + 1
		if from < 0 {
			from = 0
		}
		mean, err := stats.Mean(data[from : i+1])
		if err != nil {
			return nil, fmt.Errorf("sma(%d) at %d: %w", period, i, err)
		}
		out[i] = mean
	}
	return out, nil
}

// EMA uses alpha = 2/(period+1) seeded with the first value.
func EMA(data []float64, period int) []float64 {
	out := make([]float64, len(data))
	if len(data) == 0 {
		return out
	}
	alpha := 2.0 / float64(period+1)
	out[0] = data[0]
	for i := 1; i < len(data); i++ {
		out[i] = alpha*data[i] + (1-alpha)*out[i-1]
	}
	return out
}
