package main

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"stock-lstm-research/internal/features"
	"stock-lstm-research/internal/forecast"
	"stock-lstm-research/internal/market"
	"stock-lstm-research/internal/plot"
	"stock-lstm-research/internal/task"
	"stock-lstm-research/internal/train"
)

var liveCmd = &cobra.Command{
	Use:   "live",
	Short: "Forecast a futures symbol on every closed candle and publish the chart",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		e, err := loadEnv(cmd)
		if err != nil {
			return err
		}
		symbol, _ := cmd.Flags().GetString("symbol")
		interval, _ := cmd.Flags().GetString("interval")
		name, _ := cmd.Flags().GetString("task")
		keep, _ := cmd.Flags().GetInt("history")

		p, err := e.preset(name)
		if err != nil {
			return err
		}
		if p.Kind != task.KindWalkForward {
			return fmt.Errorf("task %s is a %s task; live needs a univariate %s model", p.Name, p.Kind, task.KindWalkForward)
		}
		if err := p.Validate(); err != nil {
			return err
		}
		if !p.ExtractedColumns() {
			return fmt.Errorf("task %s targets %s, which klines cannot provide", p.Name, p.Target)
		}
		step, err := time.ParseDuration(interval)
		if err != nil {
			return fmt.Errorf("interval %q: %w", interval, err)
		}
		if keep < p.Timesteps {
			keep = p.Timesteps
		}
		if err := e.cfg.Paths.EnsureDirs(); err != nil {
			return err
		}

		rt := &task.Runtime{Logger: e.logger, Paths: e.cfg.Paths}
		m, err := rt.LoadModel(p, 1, 1)
		if err != nil {
			return err
		}

		s := &session{env: e}
		live := &liveForecaster{
			Preset: p,
			Model:  m,
			Symbol: strings.ToUpper(symbol),
			Keep:   keep,
			Path:   filepath.Join(e.cfg.Paths.ChartDir, fmt.Sprintf("live_%s_%s.png", strings.ToLower(symbol), interval)),
			Sinks:  s.sinks(ctx, p),
			Rand:   rand.New(rand.NewSource(p.Seed)),
			Logger: e.logger,
		}

		history := market.NewHistory(e.cfg.Market.ApiKey, e.cfg.Market.ApiSecret, e.logger)
		end := time.Now().UTC()
		seed, err := history.Candles(ctx, live.Symbol, interval, end.Add(-time.Duration(keep)*step), end)
		if err != nil {
			return fmt.Errorf("seed history: %w", err)
		}
		for _, c := range seed {
			live.Add(c)
		}
		e.logger.Info("History seeded", "symbol", live.Symbol, "interval", interval, "candles", len(live.Candles))
		live.Update(ctx)

		streamer := market.NewKLineStreamer(live.Symbol, interval, e.logger)
		go streamer.Start(ctx)
		for c := range market.ClosedCandles(ctx, streamer.DataChan, e.logger) {
			start := time.Now()
			e.logger.Info("[Event] Candle closed", "time", c.Time.Format(time.DateTime), "close", c.Close)
			live.Add(c)
			live.Update(ctx)
			e.logger.Info("Cycle complete", "latency", time.Since(start).String())
		}
		return nil
	},
}

func init() {
	liveCmd.Flags().String("symbol", "ETHUSDT", "futures symbol to follow")
	liveCmd.Flags().String("interval", "5m", "kline interval")
	liveCmd.Flags().String("task", "evaluate_step8", "walk-forward task whose model forecasts")
	liveCmd.Flags().Int("history", 120, "candles kept for features and the chart")
}

// liveForecaster keeps a rolling candle window and redraws the forecast
// chart for it.
type liveForecaster struct {
	Preset  *task.Preset
	Model   forecast.Predictor
	Symbol  string
	Keep    int
	Path    string
	Sinks   []train.Sink
	Rand    *rand.Rand
	Logger  *slog.Logger
	Candles []features.Candle
}

// Add appends c, replacing the last candle when it has the same open time,
// and trims to Keep.
func (l *liveForecaster) Add(c features.Candle) {
	if n := len(l.Candles); n > 0 && l.Candles[n-1].Time.Equal(c.Time) {
		l.Candles[n-1] = c
	} else {
		l.Candles = append(l.Candles, c)
	}
	if extra := len(l.Candles) - l.Keep; extra > 0 {
		l.Candles = append(l.Candles[:0:0], l.Candles[extra:]...)
	}
}

// Forecast runs the model recursively from the latest Timesteps values of
// the preset's target column.
func (l *liveForecaster) Forecast() ([]float64, error) {
	p := l.Preset
	if len(l.Candles) < p.Timesteps {
		return nil, fmt.Errorf("have %d candles, need %d", len(l.Candles), p.Timesteps)
	}
	tbl, err := features.Extract(l.Candles)
	if err != nil {
		return nil, err
	}
	series, err := tbl.Column(p.Target)
	if err != nil {
		return nil, err
	}
	window := series[len(series)-p.Timesteps:]
	return forecast.Recursive(l.Model, window, p.Steps, forecast.DefaultJitter, l.Rand, nil)
}

// Update forecasts, renders and publishes. Failures are logged so the
// stream keeps running.
func (l *liveForecaster) Update(ctx context.Context) {
	predicted, err := l.Forecast()
	if err != nil {
		l.Logger.Warn("Forecast skipped", "error", err)
		return
	}
	chart := &plot.CandleChart{
		Title:    fmt.Sprintf("%s %s +%d", l.Symbol, l.Preset.Target, len(predicted)),
		Candles:  l.Candles,
		Forecast: predicted,
	}
	if err := chart.Render(l.Path); err != nil {
		l.Logger.Error("Chart render failed", "error", err)
		return
	}
	l.Logger.Info("Forecast", "symbol", l.Symbol, "next", predicted[0], "last", predicted[len(predicted)-1])
	for _, s := range l.Sinks {
		if err := s.Publish(ctx, l.Path); err != nil {
			l.Logger.Warn("Publish failed", "path", l.Path, "error", err)
		}
	}
}
