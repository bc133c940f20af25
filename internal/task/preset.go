package task

import (
	"fmt"
	"os"
	"sort"
	"time"

	"gopkg.in/yaml.v3"

	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/features"
)

const (
	KindForecast    = "forecast"
	KindWalkForward = "walkforward"
	KindAutoencoder = "autoencoder"
)

// LayerSpec describes one layer of a preset's network.
type LayerSpec struct {
	Kind            string  `yaml:"kind"`
	Name            string  `yaml:"name"`
	Units           int     `yaml:"units,omitempty"`
	Activation      string  `yaml:"activation,omitempty"`
	ReturnSequences bool    `yaml:"return_sequences,omitempty"`
	Stateful        bool    `yaml:"stateful,omitempty"`
	Rate            float64 `yaml:"rate,omitempty"`
}

func lstm(name string, units int, seq bool) LayerSpec {
	return LayerSpec{Kind: "lstm", Name: name, Units: units, ReturnSequences: seq}
}

func dense(name string, units int, act string) LayerSpec {
	return LayerSpec{Kind: "dense", Name: name, Units: units, Activation: act}
}

// Preset is everything one research task needs: data selection, windowing,
// network, training schedule and chart cadence.
type Preset struct {
	Name string `yaml:"name"`
	Kind string `yaml:"kind"`

	Code     string    `yaml:"code"`
	Start    time.Time `yaml:"start"`
	End      time.Time `yaml:"end"`
	Target   string    `yaml:"target"`
	Features []string  `yaml:"features"`

	Timesteps          int     `yaml:"timesteps"`
	PredictionStep     int     `yaml:"prediction_step"`
	BatchSize          int     `yaml:"batch_size"`
	TrainFraction      float64 `yaml:"train_fraction"`
	ValidationFraction float64 `yaml:"validation_fraction"`

	Layers    []LayerSpec `yaml:"layers"`
	Loss      string      `yaml:"loss"`
	Metrics   []string    `yaml:"metrics"`
	Optimizer string      `yaml:"optimizer"`
	Seed      int64       `yaml:"seed"`

	Epochs     int  `yaml:"epochs"`
	Shuffle    bool `yaml:"shuffle"`
	ChartEvery int  `yaml:"chart_every"`
	TestEvery  int  `yaml:"test_every"`
	// ShiftChart draws predictions PredictionStep samples left of their target.
	ShiftChart bool   `yaml:"shift_chart"`
	WeightFile string `yaml:"weight_file"`
	// EarlyStoppingPatience stops training after that many epochs without
	// a val_loss improvement. Zero trains for every epoch.
	EarlyStoppingPatience int `yaml:"early_stopping_patience,omitempty"`

	// Steps is the recursive forecast length of a walk-forward task.
	Steps int `yaml:"steps,omitempty"`

	// EncoderLayers is how many leading layers form the encoder.
	EncoderLayers int     `yaml:"encoder_layers,omitempty"`
	DropTop       int     `yaml:"drop_top,omitempty"`
	ScaleMin      float64 `yaml:"scale_min,omitempty"`
	ScaleMax      float64 `yaml:"scale_max,omitempty"`
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Builtin returns fresh copies of the bundled presets.
func Builtin() map[string]*Preset {
	return map[string]*Preset{
		"close_step24": {
			Name:     "close_step24",
			Kind:     KindForecast,
			Code:     "sh600088",
			Start:    date(2016, 1, 1),
			End:      date(2016, 12, 30),
			Target:   "ma40",
			Features: []string{"open", "low", "high", "close", "ma5", "ma15", "ma25", "ma40", "ema_5", "ema_15", "ema_25", "ema_40"},

			Timesteps:          10,
			PredictionStep:     24,
			BatchSize:          48,
			TrainFraction:      0.8,
			ValidationFraction: 0.5,

			Layers: []LayerSpec{
				lstm("lstm_1", 100, true),
				lstm("lstm_2", 50, true),
				lstm("lstm_3", 30, false),
				dense("dense_2", 256, "tanh"),
				dense("dense_3", 128, "tanh"),
				dense("dense_4", 64, "tanh"),
				dense("output", 1, "linear"),
			},
			Loss:      "rmse",
			Metrics:   []string{"mae", "mse"},
			Optimizer: "adadelta",
			Seed:      7,

			Epochs:     2000,
			ChartEvery: 5,
			TestEvery:  5,
			ShiftChart: true,
			WeightFile: "LSTMResearchNextCloseS24_weight",
		},
		"ma40": {
			Name:     "ma40",
			Kind:     KindForecast,
			Code:     "sz002166",
			Start:    date(2016, 1, 1),
			End:      date(2016, 12, 30),
			Target:   "ma40",
			Features: []string{"close", "ma5", "ma15", "ma25", "ma40"},

			Timesteps:      10,
			PredictionStep: 4,
			BatchSize:      48,
			TrainFraction:  0.715,

			Layers: []LayerSpec{
				{Kind: "lstm", Name: "lstm_1", Units: 100, Stateful: true},
				dense("dense_2", 256, "linear"),
				{Kind: "dropout", Name: "dropout_1", Rate: 0.4},
				dense("dense_3", 128, "linear"),
				dense("output", 1, "linear"),
			},
			Loss:      "mse",
			Metrics:   []string{"mae"},
			Optimizer: "adadelta",
			Seed:      7,

			Epochs:     2000,
			ChartEvery: 5,
			WeightFile: "LSTMResearchMA40_weight",
		},
		"evaluate_step8": {
			Name:     "evaluate_step8",
			Kind:     KindWalkForward,
			Code:     "sz002166",
			Start:    date(2016, 11, 10),
			End:      date(2016, 12, 10),
			Target:   "ma25",
			Features: []string{"ma25"},

			Timesteps:      24,
			PredictionStep: 1,
			BatchSize:      1,

			Layers: []LayerSpec{
				lstm("lstm_1", 30, false),
				dense("dense_4", 64, "tanh"),
				dense("output", 1, "linear"),
			},
			Loss:      "rmse",
			Metrics:   []string{"mae", "mse"},
			Optimizer: "adadelta",
			Seed:      7,

			ChartEvery: 1,
			WeightFile: "LSTMResearchNextCloseS8_weight",
			Steps:      24,
		},
		"tr_ae": {
			Name:     "tr_ae",
			Kind:     KindAutoencoder,
			Code:     "sz002166",
			Start:    date(2016, 1, 1),
			End:      date(2016, 12, 30),
			Target:   "close",
			Features: []string{"vol"},

			Timesteps:          48,
			PredictionStep:     1,
			BatchSize:          256,
			TrainFraction:      0.8,
			ValidationFraction: 0.5,

			Layers: []LayerSpec{
				dense("Model_TRencoder_2", 140, "relu"),
				dense("Model_TRencoder_3", 90, "relu"),
				dense("Model_TRencoder_4", 40, "relu"),
				dense("Model_TRencoder_output", 2, "linear"),
				dense("Model_TRdecoder_1", 40, "relu"),
				dense("Model_TRdecoder_2", 90, "relu"),
				dense("Model_TRdecoder_3", 140, "relu"),
				dense("Model_TRdecoder_output", 48, "relu"),
			},
			Loss:      "mse",
			Metrics:   []string{"mae", "mean_error_rate"},
			Optimizer: "adadelta",
			Seed:      7,

			Epochs:        10000,
			Shuffle:       true,
			ChartEvery:    5,
			TestEvery:     5,
			WeightFile:    "Model_TR_weight",
			EncoderLayers: 4,
			DropTop:       100,
			ScaleMin:      0,
			ScaleMax:      3,
		},
	}
}

// Names lists presets in a stable order.
func Names(presets map[string]*Preset) []string {
	names := make([]string, 0, len(presets))
	for n := range presets {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// LoadOverrides applies a YAML file of the form {name: {field: value}} on top
// of presets. Unknown names add new presets.
func LoadOverrides(path string, presets map[string]*Preset) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read presets %s: %w", path, err)
	}
	return applyOverrides(raw, presets)
}

func applyOverrides(raw []byte, presets map[string]*Preset) error {
	var doc map[string]yaml.Node
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("parse presets: %w", err)
	}
	for name, node := range doc {
		p, ok := presets[name]
		if !ok {
			p = &Preset{Name: name}
			presets[name] = p
		}
		if err := node.Decode(p); err != nil {
			return fmt.Errorf("preset %s: %w", name, err)
		}
		if p.Name == "" {
			p.Name = name
		}
	}
	return nil
}

func (p *Preset) Validate() error {
	switch p.Kind {
	case KindForecast, KindWalkForward, KindAutoencoder:
	default:
		return fmt.Errorf("preset %s: unknown kind %q", p.Name, p.Kind)
	}
	if p.Code == "" {
		return fmt.Errorf("preset %s: code is required", p.Name)
	}
	if p.Target == "" || len(p.Features) == 0 {
		return fmt.Errorf("preset %s: target and features are required", p.Name)
	}
	if len(p.Layers) == 0 {
		return fmt.Errorf("preset %s: no layers", p.Name)
	}
	if p.WeightFile == "" {
		return fmt.Errorf("preset %s: weight_file is required", p.Name)
	}
	if err := p.WindowParams().Validate(); err != nil {
		return fmt.Errorf("preset %s: %w", p.Name, err)
	}
	switch p.Kind {
	case KindWalkForward:
		if p.Steps < 1 {
			return fmt.Errorf("preset %s: steps must be >= 1", p.Name)
		}
		if len(p.Features) != 1 || p.Features[0] != p.Target {
			return fmt.Errorf("preset %s: walk-forward forecasts the target column alone", p.Name)
		}
	case KindAutoencoder:
		if p.EncoderLayers < 1 || p.EncoderLayers >= len(p.Layers) {
			return fmt.Errorf("preset %s: encoder_layers must split the network", p.Name)
		}
		if p.ScaleMax <= p.ScaleMin {
			return fmt.Errorf("preset %s: scale_max must exceed scale_min", p.Name)
		}
		fallthrough
	case KindForecast:
		if p.Epochs < 1 {
			return fmt.Errorf("preset %s: epochs must be >= 1", p.Name)
		}
		if p.EarlyStoppingPatience < 0 {
			return fmt.Errorf("preset %s: early_stopping_patience must be >= 0", p.Name)
		}
		if err := p.SplitParams().Validate(); err != nil {
			return fmt.Errorf("preset %s: %w", p.Name, err)
		}
	}
	return nil
}

func (p *Preset) WindowParams() dataset.WindowParams {
	return dataset.WindowParams{
		Timesteps:      p.Timesteps,
		PredictionStep: p.PredictionStep,
		Features:       p.Features,
		Target:         p.Target,
	}
}

func (p *Preset) SplitParams() dataset.SplitParams {
	return dataset.SplitParams{
		BatchSize:          p.BatchSize,
		TrainFraction:      p.TrainFraction,
		ValidationFraction: p.ValidationFraction,
	}
}

func (p *Preset) CacheKey() cache.Key {
	return cache.Key{Column: p.Target, Code: p.Code, Horizon: p.PredictionStep}
}

// Columns is the projection to fetch: the features plus the target when it
// is not already among them.
func (p *Preset) Columns() []string {
	cols := append([]string(nil), p.Features...)
	for _, c := range cols {
		if c == p.Target {
			return cols
		}
	}
	return append(cols, p.Target)
}

// ExtractedColumns reports whether every column the preset needs can be
// derived from raw candles.
func (p *Preset) ExtractedColumns() bool {
	known := map[string]bool{}
	for _, c := range features.Columns() {
		known[c] = true
	}
	for _, c := range p.Columns() {
		if !known[c] {
			return false
		}
	}
	return true
}

func (p *Preset) Title() string {
	return fmt.Sprintf("5 mins K-Chart for %s from %s to %s", p.Code, p.Start.Format(time.DateOnly), p.End.Format(time.DateOnly))
}
