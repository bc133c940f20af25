package task

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-lstm-research/config"
	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/features"
	"stock-lstm-research/internal/train"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func syntheticTable(t *testing.T, n int) *dataset.Table {
	t.Helper()
	start := time.Date(2016, 1, 4, 9, 30, 0, 0, time.UTC)
	candles := make([]features.Candle, n)
	for i := range candles {
		base := 10 + math.Sin(float64(i)/6)
		candles[i] = features.Candle{
			Time:   start.Add(time.Duration(i) * 5 * time.Minute),
			Open:   base,
			High:   base + 0.2,
			Low:    base - 0.2,
			Close:  base + 0.1,
			Volume: 1.5 + math.Cos(float64(i)/4),
		}
	}
	tbl, err := features.Extract(candles)
	require.NoError(t, err)
	return tbl
}

type countingLoader struct {
	tbl   *dataset.Table
	calls int
}

func (c *countingLoader) load(ctx context.Context, p *Preset) (*dataset.Table, error) {
	c.calls++
	return c.tbl, nil
}

func newRuntime(t *testing.T, loader TableLoader) *Runtime {
	dir := t.TempDir()
	paths := config.PathConfig{
		ModelDir: filepath.Join(dir, "models"),
		CacheDir: filepath.Join(dir, "cache"),
		ChartDir: filepath.Join(dir, "charts"),
	}
	require.NoError(t, paths.EnsureDirs())
	return &Runtime{
		Logger: quiet(),
		Paths:  paths,
		Cache:  cache.NewFileCache(paths.CacheDir),
		Load:   loader,
	}
}

func tinyForecast() *Preset {
	return &Preset{
		Name:               "tiny",
		Kind:               KindForecast,
		Code:               "sz000001",
		Start:              date(2016, 1, 1),
		End:                date(2016, 2, 1),
		Target:             "ma5",
		Features:           []string{"close", "ma5"},
		Timesteps:          3,
		PredictionStep:     2,
		BatchSize:          4,
		TrainFraction:      0.6,
		ValidationFraction: 0.5,
		Layers: []LayerSpec{
			lstm("lstm_1", 4, false),
			dense("output", 1, "linear"),
		},
		Loss:       "mse",
		Metrics:    []string{"mae"},
		Optimizer:  "adadelta",
		Seed:       7,
		Epochs:     2,
		ChartEvery: 1,
		TestEvery:  1,
		ShiftChart: true,
		WeightFile: "tiny_weight",
	}
}

func TestBuiltinPresetsAreValid(t *testing.T) {
	presets := Builtin()
	assert.Equal(t, []string{"close_step24", "evaluate_step8", "ma40", "tr_ae"}, Names(presets))
	for name, p := range presets {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, p.Validate())
			inputDim := len(p.Features)
			if p.Kind == KindAutoencoder {
				inputDim = p.Timesteps
			}
			m, err := BuildModel(p, inputDim, p.BatchSize)
			require.NoError(t, err)
			want := 1
			if p.Kind == KindAutoencoder {
				want = p.Timesteps
			}
			assert.Equal(t, want, m.OutputDim())
		})
	}
}

func TestBuiltinReturnsCopies(t *testing.T) {
	a := Builtin()
	a["ma40"].Code = "changed"
	assert.Equal(t, "sz002166", Builtin()["ma40"].Code)
}

func TestPresetParams(t *testing.T) {
	p := Builtin()["close_step24"]
	assert.Equal(t, cache.Key{Column: "ma40", Code: "sh600088", Horizon: 24}, p.CacheKey())
	assert.Equal(t, "ma40-sh600088-s24", p.CacheKey().String())
	assert.Equal(t, 48, p.SplitParams().BatchSize)
	assert.Equal(t, 10, p.WindowParams().Timesteps)
	assert.Equal(t, p.Features, p.Columns())
	assert.Equal(t, "5 mins K-Chart for sh600088 from 2016-01-01 to 2016-12-30", p.Title())

	ae := Builtin()["tr_ae"]
	assert.Equal(t, []string{"vol", "close"}, ae.Columns())
	assert.True(t, ae.ExtractedColumns())
}

func TestPresetValidation(t *testing.T) {
	cases := map[string]func(p *Preset){
		"kind":      func(p *Preset) { p.Kind = "gan" },
		"code":      func(p *Preset) { p.Code = "" },
		"layers":    func(p *Preset) { p.Layers = nil },
		"weights":   func(p *Preset) { p.WeightFile = "" },
		"timesteps": func(p *Preset) { p.Timesteps = 0 },
		"epochs":    func(p *Preset) { p.Epochs = 0 },
		"fraction":  func(p *Preset) { p.TrainFraction = 1 },
		"patience":  func(p *Preset) { p.EarlyStoppingPatience = -1 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			p := tinyForecast()
			mutate(p)
			assert.Error(t, p.Validate())
		})
	}

	wf := Builtin()["evaluate_step8"]
	wf.Features = []string{"close"}
	assert.Error(t, wf.Validate())

	ae := Builtin()["tr_ae"]
	ae.EncoderLayers = len(ae.Layers)
	assert.Error(t, ae.Validate())
}

func TestBuildModelRejectsBadLayers(t *testing.T) {
	p := tinyForecast()
	p.Layers = []LayerSpec{lstm("a", 2, false), dense("a", 1, "linear")}
	_, err := BuildModel(p, 2, 4)
	assert.ErrorContains(t, err, "duplicate")

	p.Layers = []LayerSpec{{Kind: "conv", Name: "c"}}
	_, err = BuildModel(p, 2, 4)
	assert.Error(t, err)

	p.Layers = []LayerSpec{dense("d", 1, "softplus")}
	_, err = BuildModel(p, 2, 4)
	assert.Error(t, err)

	p.Layers = []LayerSpec{{Kind: "dropout", Name: "d", Rate: 1}}
	_, err = BuildModel(p, 2, 4)
	assert.Error(t, err)

	p = tinyForecast()
	p.Loss = "huber"
	_, err = BuildModel(p, 2, 4)
	assert.Error(t, err)
}

func TestApplyOverrides(t *testing.T) {
	presets := Builtin()
	doc := []byte(`
ma40:
  code: sh600000
  epochs: 50
  start: 2017-01-01
custom:
  kind: forecast
  code: sz000002
  target: close
  features: [close]
  timesteps: 5
  prediction_step: 1
  batch_size: 8
  train_fraction: 0.7
  layers:
    - {kind: lstm, name: lstm_1, units: 8}
    - {kind: dense, name: output, units: 1, activation: linear}
  loss: mse
  optimizer: sgd
  epochs: 3
  weight_file: custom_weight
`)
	require.NoError(t, applyOverrides(doc, presets))

	ma40 := presets["ma40"]
	assert.Equal(t, "sh600000", ma40.Code)
	assert.Equal(t, 50, ma40.Epochs)
	assert.Equal(t, date(2017, 1, 1), ma40.Start)
	assert.Equal(t, 10, ma40.Timesteps, "untouched fields keep their preset value")

	custom := presets["custom"]
	require.NotNil(t, custom)
	assert.Equal(t, "custom", custom.Name)
	assert.Len(t, custom.Layers, 2)
	require.NoError(t, custom.Validate())

	assert.Error(t, applyOverrides([]byte("ma40: [1, 2"), presets))
}

func TestLoadOverridesMissingFile(t *testing.T) {
	assert.Error(t, LoadOverrides(filepath.Join(t.TempDir(), "none.yaml"), Builtin()))
}

func TestTransformInputs(t *testing.T) {
	x := [][][]float64{
		{{0, 9}, {3, 9}},
		{{math.NaN(), 9}, {math.Inf(1), 9}},
	}
	rows, err := TransformInputs(x, 0, 0, 3)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	low := math.Pow(math.Tanh(-0.5)+2, 10)
	high := math.Pow(math.Tanh(0.5)+2, 10)
	assert.InDelta(t, low, rows[0][0], 1e-9)
	assert.InDelta(t, high, rows[0][1], 1e-9)
	assert.InDelta(t, low, rows[1][0], 1e-9)
	assert.InDelta(t, low, rows[1][1], 1e-9)

	_, err = TransformInputs(x, 5, 0, 3)
	assert.Error(t, err)
	_, err = TransformInputs(x, 0, 3, 3)
	assert.Error(t, err)
}

func TestRunForecastTrainsChartsAndCheckpoints(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 80)}
	rt := newRuntime(t, loader.load)
	p := tinyForecast()

	history, err := rt.RunForecast(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[0], "val_loss")
	assert.Contains(t, history[0], "test_loss")
	assert.Contains(t, history[0], "lr")

	assert.FileExists(t, rt.weightPath(p))
	assert.FileExists(t, rt.chartPath(p, ""))
	assert.FileExists(t, filepath.Join(rt.Paths.CacheDir, "dataset-ma5-sz000001-s2.csv"))

	// second run is served from the cache and resumes from saved weights
	_, err = rt.RunForecast(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestRunForecastSingleSplit(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 60)}
	rt := newRuntime(t, loader.load)
	p := tinyForecast()
	p.ValidationFraction = 0
	p.Layers = []LayerSpec{
		{Kind: "lstm", Name: "lstm_1", Units: 4, Stateful: true},
		dense("dense_2", 6, "linear"),
		{Kind: "dropout", Name: "dropout_1", Rate: 0.4},
		dense("output", 1, "linear"),
	}

	history, err := rt.RunForecast(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[1], "val_loss")
	assert.NotContains(t, history[1], "test_loss")
}

// flatValLoss pins val_loss so no epoch counts as an improvement.
type flatValLoss struct{ epochs int }

func (f *flatValLoss) OnEpochEnd(ctx context.Context, epoch int, logs train.Logs) error {
	f.epochs++
	logs["val_loss"] = 1
	return nil
}

func TestRunForecastEarlyStopping(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 80)}
	rt := newRuntime(t, loader.load)
	flat := &flatValLoss{}
	rt.Callbacks = []train.Callback{flat}
	p := tinyForecast()
	p.Epochs = 50
	p.EarlyStoppingPatience = 2
	require.NoError(t, p.Validate())

	history, err := rt.RunForecast(context.Background(), p)
	require.NoError(t, err)
	assert.Len(t, history, 3)
	assert.Equal(t, 3, flat.epochs)
}

func TestEpochCallbacksWithoutPatience(t *testing.T) {
	rt := newRuntime(t, nil)
	flat := &flatValLoss{}
	rt.Callbacks = []train.Callback{flat}
	p := tinyForecast()

	cbs := rt.epochCallbacks(p)
	require.Len(t, cbs, 1)
	assert.Same(t, flat, cbs[0])

	p.EarlyStoppingPatience = 3
	cbs = rt.epochCallbacks(p)
	require.Len(t, cbs, 2)
	assert.IsType(t, &train.EarlyStopping{}, cbs[1])
}

func TestRunForecastNeedsData(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 6)}
	rt := newRuntime(t, loader.load)
	_, err := rt.RunForecast(context.Background(), tinyForecast())
	assert.ErrorIs(t, err, dataset.ErrInsufficientRows)
}

func walkForwardPreset() *Preset {
	return &Preset{
		Name:           "wf",
		Kind:           KindWalkForward,
		Code:           "sz002166",
		Target:         "ma25",
		Features:       []string{"ma25"},
		Timesteps:      4,
		PredictionStep: 1,
		BatchSize:      1,
		Layers:         []LayerSpec{lstm("lstm_1", 3, false), dense("output", 1, "linear")},
		Loss:           "rmse",
		Optimizer:      "adadelta",
		Seed:           7,
		ChartEvery:     10,
		WeightFile:     "wf_weight",
		Steps:          3,
	}
}

func TestRunWalkForward(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 40)}
	rt := newRuntime(t, loader.load)
	p := walkForwardPreset()
	require.NoError(t, p.Validate())

	var out bytes.Buffer
	report, err := rt.RunWalkForward(context.Background(), p, &out)
	require.NoError(t, err)
	assert.Equal(t, 36, report.Positions)
	assert.Equal(t, 3, report.Steps())
	assert.Contains(t, out.String(), "MAE")
	assert.FileExists(t, rt.chartPath(p, "_walk"))
}

func TestRunWalkForwardIgnoresTrainingBatchSize(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 40)}
	rt := newRuntime(t, loader.load)
	p := walkForwardPreset()
	p.BatchSize = 24
	require.NoError(t, p.Validate())

	report, err := rt.RunWalkForward(context.Background(), p, nil)
	require.NoError(t, err)
	assert.Equal(t, 36, report.Positions)
	assert.Equal(t, 3, report.Count(0))
}

func TestRunAutoencoder(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 90)}
	rt := newRuntime(t, loader.load)
	p := &Preset{
		Name:               "ae",
		Kind:               KindAutoencoder,
		Code:               "sz002166",
		Target:             "close",
		Features:           []string{"vol"},
		Timesteps:          8,
		PredictionStep:     1,
		BatchSize:          4,
		TrainFraction:      0.6,
		ValidationFraction: 0.5,
		Layers: []LayerSpec{
			dense("enc_1", 6, "relu"),
			dense("enc_out", 2, "linear"),
			dense("dec_1", 6, "relu"),
			dense("dec_out", 8, "relu"),
		},
		Loss:          "mse",
		Metrics:       []string{"mae", "mean_error_rate"},
		Optimizer:     "adadelta",
		Seed:          7,
		Epochs:        2,
		Shuffle:       true,
		ChartEvery:    1,
		TestEvery:     1,
		WeightFile:    "ae_weight",
		EncoderLayers: 2,
		DropTop:       2,
		ScaleMax:      3,
	}
	require.NoError(t, p.Validate())

	history, err := rt.RunAutoencoder(context.Background(), p)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Contains(t, history[0], "mean_error_rate")
	assert.FileExists(t, rt.chartPath(p, "_latent"))
	assert.FileExists(t, rt.weightPath(p))
}

func TestRunDispatchesAndValidates(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 80)}
	rt := newRuntime(t, loader.load)

	p := tinyForecast()
	p.Epochs = 1
	require.NoError(t, rt.Run(context.Background(), p))

	bad := tinyForecast()
	bad.Kind = ""
	assert.Error(t, rt.Run(context.Background(), bad))
}

func TestRunStopsOnCancel(t *testing.T) {
	loader := &countingLoader{tbl: syntheticTable(t, 80)}
	rt := newRuntime(t, loader.load)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := rt.RunForecast(ctx, tinyForecast())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestKlineLoaderRejectsUnknownColumns(t *testing.T) {
	p := tinyForecast()
	p.Features = []string{"turnover"}
	_, err := KlineLoader(nil)(context.Background(), p)
	assert.Error(t, err)
}
