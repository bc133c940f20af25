package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awssqs "github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-lstm-research/config"
	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/database"
	"stock-lstm-research/internal/features"
	"stock-lstm-research/internal/sqs"
	"stock-lstm-research/internal/task"
	"stock-lstm-research/internal/train"
	"stock-lstm-research/pkg"
)

func testEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	return &env{
		cfg: &config.AppConfig{
			Paths: config.PathConfig{
				ModelDir: filepath.Join(dir, "models"),
				CacheDir: filepath.Join(dir, "cache"),
				ChartDir: filepath.Join(dir, "charts"),
			},
		},
		logger:  pkg.NewLogger(io.Discard, "error"),
		presets: task.Builtin(),
	}
}

func TestDataOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		opts    dataOptions
		wantErr bool
	}{
		{"defaults", dataOptions{Source: SourceDatabase, Cache: CacheFile}, false},
		{"binance without cache", dataOptions{Source: SourceBinance, Cache: CacheNone}, false},
		{"pgvector", dataOptions{Source: SourceBinance, Cache: CachePgvector}, false},
		{"unknown source", dataOptions{Source: "csv", Cache: CacheFile}, true},
		{"unknown cache", dataOptions{Source: SourceDatabase, Cache: "redis"}, true},
		{"negative epochs", dataOptions{Source: SourceDatabase, Cache: CacheFile, Epochs: -1}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.opts.validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestDataOptionsNeedsDatabase(t *testing.T) {
	assert.True(t, dataOptions{Source: SourceDatabase, Cache: CacheFile}.needsDatabase())
	assert.True(t, dataOptions{Source: SourceBinance, Cache: CachePgvector}.needsDatabase())
	assert.False(t, dataOptions{Source: SourceBinance, Cache: CacheFile}.needsDatabase())
}

func TestDataOptionsApplyCopies(t *testing.T) {
	base := task.Builtin()["close_step24"]
	code, epochs := base.Code, base.Epochs

	p := dataOptions{Code: "sz000001", Epochs: 3}.apply(base)
	assert.Equal(t, "sz000001", p.Code)
	assert.Equal(t, 3, p.Epochs)
	assert.Equal(t, code, base.Code)
	assert.Equal(t, epochs, base.Epochs)

	same := dataOptions{}.apply(base)
	assert.Equal(t, code, same.Code)
	assert.Equal(t, epochs, same.Epochs)
}

func TestPresetName(t *testing.T) {
	assert.Equal(t, "ma40", presetName([]string{"ma40"}, "close_step24"))
	assert.Equal(t, "close_step24", presetName(nil, "close_step24"))
}

func TestEnvPresetUnknown(t *testing.T) {
	e := testEnv(t)
	_, err := e.preset("nope")
	assert.ErrorContains(t, err, "unknown task")

	p, err := e.preset("ma40")
	require.NoError(t, err)
	assert.Equal(t, "ma40", p.Name)
}

func TestOpenSessionWithoutDatabase(t *testing.T) {
	e := testEnv(t)

	_, err := e.openSession(context.Background(), true)
	assert.ErrorContains(t, err, "not configured")

	s, err := e.openSession(context.Background(), false)
	require.NoError(t, err)
	defer s.Close()
	assert.Nil(t, s.db)

	_, err = s.loader(SourceDatabase)
	assert.ErrorContains(t, err, "needs a database")
	load, err := s.loader(SourceBinance)
	require.NoError(t, err)
	assert.NotNil(t, load)

	_, err = s.windowCache(context.Background(), CachePgvector)
	assert.ErrorContains(t, err, "needs a database")
	store, err := s.windowCache(context.Background(), CacheNone)
	require.NoError(t, err)
	assert.Nil(t, store)
	store, err = s.windowCache(context.Background(), CacheFile)
	require.NoError(t, err)
	assert.IsType(t, &cache.FileCache{}, store)
}

func TestSessionRuntimeUnconfiguredPublishers(t *testing.T) {
	e := testEnv(t)
	s := &session{env: e}
	p := e.presets["ma40"]

	rt, err := s.runtime(context.Background(), p, dataOptions{Source: SourceBinance, Cache: CacheFile})
	require.NoError(t, err)
	assert.Empty(t, rt.Sinks)
	assert.Empty(t, rt.Callbacks)
	assert.Equal(t, e.cfg.Paths, rt.Paths)
}

func TestSessionRuntimeWithWebhookAndPushgateway(t *testing.T) {
	e := testEnv(t)
	e.cfg.Discord.ChartWebhookURL = "http://127.0.0.1:1/webhook"
	e.cfg.Metrics.PushgatewayURL = "http://127.0.0.1:1"
	e.cfg.Metrics.Job = "lstm_research"
	s := &session{env: e}

	rt, err := s.runtime(context.Background(), e.presets["ma40"], dataOptions{Source: SourceBinance, Cache: CacheNone})
	require.NoError(t, err)
	assert.Len(t, rt.Sinks, 1)
	assert.Len(t, rt.Callbacks, 1)
	assert.Nil(t, rt.Cache)
}

func TestSessionCloseRunsInReverse(t *testing.T) {
	var order []int
	s := &session{closers: []func(){
		func() { order = append(order, 1) },
		func() { order = append(order, 2) },
	}}
	s.Close()
	assert.Equal(t, []int{2, 1}, order)
}

func TestWritePresets(t *testing.T) {
	var buf bytes.Buffer
	writePresets(&buf, task.Builtin())
	out := buf.String()
	for _, name := range []string{"close_step24", "ma40", "evaluate_step8", "tr_ae"} {
		assert.Contains(t, out, name)
	}
	assert.Contains(t, out, "TIMESTEPS")
}

func TestWriteNeighbours(t *testing.T) {
	at := time.Date(2016, 6, 1, 10, 0, 0, 0, time.UTC)
	var buf bytes.Buffer
	writeNeighbours(&buf, at, []database.Neighbor{
		{Index: 12, Target: 9.5, TargetTime: at.Add(-time.Hour), Distance: 0.25},
	})
	out := buf.String()
	assert.Contains(t, out, "2016-06-01 10:00:00")
	assert.Contains(t, out, "9.5000")
	assert.Contains(t, out, "0.250000")
}

func TestWriteReportSortsLogs(t *testing.T) {
	var buf bytes.Buffer
	writeReport(&buf, sqs.EpochReport{
		Task:       "ma40",
		Run:        "ma40_1",
		Epoch:      4,
		Logs:       map[string]float64{"val_loss": 0.5, "loss": 0.25},
		RecordedAt: time.Date(2016, 6, 1, 10, 0, 0, 0, time.UTC),
	})
	assert.Equal(t, "2016-06-01 10:00:00 ma40 [ma40_1] epoch 4: loss=0.25 val_loss=0.5\n", buf.String())
}

type capturedQueue struct{ bodies []string }

func (q *capturedQueue) SendMessage(ctx context.Context, in *awssqs.SendMessageInput, _ ...func(*awssqs.Options)) (*awssqs.SendMessageOutput, error) {
	q.bodies = append(q.bodies, aws.ToString(in.MessageBody))
	return &awssqs.SendMessageOutput{MessageId: aws.String("m")}, nil
}

func TestWriteReportShowsPublishedEpoch(t *testing.T) {
	q := &capturedQueue{}
	pub := sqs.NewEpochPublisher(q, "q.fifo", "ma40", pkg.NewLogger(io.Discard, "error"))
	require.NoError(t, pub.OnEpochEnd(context.Background(), 0, train.Logs{"loss": 1}))
	require.Len(t, q.bodies, 1)

	var r sqs.EpochReport
	require.NoError(t, json.Unmarshal([]byte(q.bodies[0]), &r))
	var buf bytes.Buffer
	writeReport(&buf, r)
	assert.Contains(t, buf.String(), "] epoch 1: loss=1\n")
}

// lastPlusOne predicts the newest input value plus one.
type lastPlusOne struct{}

func (lastPlusOne) Predict(x [][][]float64) ([][]float64, error) {
	seq := x[0]
	return [][]float64{{seq[len(seq)-1][0] + 1}}, nil
}

type recordingSink struct{ paths []string }

func (r *recordingSink) Publish(ctx context.Context, path string) error {
	r.paths = append(r.paths, path)
	return nil
}

func candlesFrom(start time.Time, closes ...float64) []features.Candle {
	out := make([]features.Candle, len(closes))
	for i, c := range closes {
		out[i] = features.Candle{
			Time:  start.Add(time.Duration(i) * 5 * time.Minute),
			Open:  c,
			High:  c + 1,
			Low:   c - 1,
			Close: c,
		}
	}
	return out
}

func newTestForecaster(t *testing.T) *liveForecaster {
	t.Helper()
	return &liveForecaster{
		Preset: &task.Preset{Name: "live", Target: "close", Features: []string{"close"}, Timesteps: 3, Steps: 2},
		Model:  lastPlusOne{},
		Symbol: "ETHUSDT",
		Keep:   4,
		Path:   filepath.Join(t.TempDir(), "live.png"),
		Rand:   rand.New(rand.NewSource(1)),
		Logger: pkg.NewLogger(io.Discard, "error"),
	}
}

func TestLiveForecasterAddReplacesAndTrims(t *testing.T) {
	l := newTestForecaster(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, c := range candlesFrom(start, 1, 2, 3, 4, 5) {
		l.Add(c)
	}
	require.Len(t, l.Candles, 4)
	assert.Equal(t, 2.0, l.Candles[0].Close)

	again := l.Candles[3]
	again.Close = 9
	l.Add(again)
	require.Len(t, l.Candles, 4)
	assert.Equal(t, 9.0, l.Candles[3].Close)
}

func TestLiveForecasterForecast(t *testing.T) {
	l := newTestForecaster(t)
	_, err := l.Forecast()
	assert.Error(t, err)

	for _, c := range candlesFrom(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 11, 12, 13) {
		l.Add(c)
	}
	got, err := l.Forecast()
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 14.0, got[0])
	assert.InDelta(t, 15.0, got[1], 0.01)
}

func TestLiveForecasterUpdatePublishes(t *testing.T) {
	l := newTestForecaster(t)
	sink := &recordingSink{}
	l.Sinks = []train.Sink{sink}
	for _, c := range candlesFrom(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), 10, 11, 12, 13) {
		l.Add(c)
	}
	l.Update(context.Background())

	_, err := os.Stat(l.Path)
	require.NoError(t, err)
	assert.Equal(t, []string{l.Path}, sink.paths)
}
