package task

import (
	"context"
	"fmt"
	"io"

	"stock-lstm-research/internal/forecast"
	"stock-lstm-research/internal/plot"
)

// RunWalkForward replays the target column with a trained model, forecasting
// Steps values recursively at every position, and prints per-step MAE to out.
func (rt *Runtime) RunWalkForward(ctx context.Context, p *Preset, out io.Writer) (*forecast.Report, error) {
	tbl, err := rt.Load(ctx, p)
	if err != nil {
		return nil, err
	}
	series, err := tbl.Column(p.Target)
	if err != nil {
		return nil, err
	}
	times := tbl.Times()

	// recursive forecasts feed one window at a time
	m, err := rt.LoadModel(p, 1, 1)
	if err != nil {
		return nil, err
	}

	wf := forecast.NewWalkForward(m, p.Timesteps, p.Steps, p.Seed, rt.Logger)
	wf.Every = p.ChartEvery
	path := rt.chartPath(p, "_walk")
	wf.OnFrame = func(ctx context.Context, f forecast.Frame) error {
		frame := &plot.WalkForwardFrame{
			Title:    p.Title(),
			Series:   series,
			Cursor:   f.Position,
			CursorAt: f.Time,
			Forecast: f.Forecast,
		}
		if err := frame.Render(path); err != nil {
			return fmt.Errorf("render frame: %w", err)
		}
		return nil
	}

	report, err := wf.Run(ctx, series, times)
	if err != nil {
		return report, err
	}
	if out != nil {
		report.WriteTable(out)
	}
	return report, nil
}
