package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"
	"time"
)

// DefaultJitter is the noise added to each fed-back prediction.
const DefaultJitter = 0.01

// Frame is the state of the walk at one cursor position.
type Frame struct {
	Position int
	Time     time.Time
	Forecast []float64
}

// FrameFunc receives every Every-th frame, typically to redraw a chart.
type FrameFunc func(ctx context.Context, f Frame) error

// WalkForward slides a cursor along a series and, at every position with a
// full window behind it, forecasts Steps values ahead and scores them
// against what actually followed.
type WalkForward struct {
	Model     Predictor
	Timesteps int
	Steps     int
	Jitter    float64
	Rand      *rand.Rand
	Every     int
	OnFrame   FrameFunc
	Logger    *slog.Logger
}

func NewWalkForward(m Predictor, timesteps, steps int, seed int64, logger *slog.Logger) *WalkForward {
	return &WalkForward{
		Model:     m,
		Timesteps: timesteps,
		Steps:     steps,
		Jitter:    DefaultJitter,
		Rand:      rand.New(rand.NewSource(seed)),
		Every:     1,
		Logger:    logger,
	}
}

// Run walks the whole series. times, when given, must align with series.
func (w *WalkForward) Run(ctx context.Context, series []float64, times []time.Time) (*Report, error) {
	if w.Timesteps < 1 || w.Steps < 1 {
		return nil, fmt.Errorf("timesteps and steps must be >= 1, got %d and %d", w.Timesteps, w.Steps)
	}
	if times != nil && len(times) != len(series) {
		return nil, fmt.Errorf("%d timestamps for %d values", len(times), len(series))
	}
	if len(series) <= w.Timesteps {
		return nil, fmt.Errorf("series of %d values is too short for %d timesteps", len(series), w.Timesteps)
	}

	report := NewReport(w.Steps)
	var buf []float64
	for pos := w.Timesteps; pos < len(series); pos++ {
		if err := ctx.Err(); err != nil {
			return report, err
		}

		var err error
		buf, err = Recursive(w.Model, series[pos-w.Timesteps:pos], w.Steps, w.Jitter, w.Rand, buf[:0])
		if err != nil {
			return report, fmt.Errorf("position %d: %w", pos, err)
		}
		report.Add(buf, series[pos:])

		if w.OnFrame != nil && w.Every > 0 && (pos-w.Timesteps)%w.Every == 0 {
			f := Frame{Position: pos, Forecast: append([]float64(nil), buf...)}
			if times != nil {
				f.Time = times[pos]
			}
			if err := w.OnFrame(ctx, f); err != nil {
				w.Logger.Warn("Walk-forward frame failed", "position", pos, "error", err)
			}
		}
	}

	w.Logger.Info("Walk-forward finished",
		"positions", report.Positions,
		"mae_first", report.MAE(0),
		"mae_last", report.MAE(w.Steps-1),
	)
	return report, nil
}

// Report accumulates absolute errors per forecast horizon.
type Report struct {
	Positions int
	sums      []float64
	counts    []int
}

func NewReport(steps int) *Report {
	return &Report{sums: make([]float64, steps), counts: make([]int, steps)}
}

func (r *Report) Steps() int { return len(r.sums) }

// Add scores one forecast against the values that followed the cursor.
// Horizons past the end of actual are not scored.
func (r *Report) Add(forecast, actual []float64) {
	r.Positions++
	for k := 0; k < len(forecast) && k < len(r.sums) && k < len(actual); k++ {
		r.sums[k] += math.Abs(forecast[k] - actual[k])
		r.counts[k]++
	}
}

// MAE of horizon k (0-based); NaN when nothing was scored.
func (r *Report) MAE(k int) float64 {
	if k < 0 || k >= len(r.sums) || r.counts[k] == 0 {
		return math.NaN()
	}
	return r.sums[k] / float64(r.counts[k])
}

func (r *Report) Count(k int) int {
	if k < 0 || k >= len(r.counts) {
		return 0
	}
	return r.counts[k]
}
