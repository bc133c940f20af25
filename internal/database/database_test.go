package database

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/train"
)

func TestBuildFeatureQuery(t *testing.T) {
	start := time.Date(2016, 11, 10, 0, 0, 0, 0, time.UTC)
	end := time.Date(2016, 12, 10, 0, 0, 0, 0, time.UTC)
	q := Query{Code: "sz002166", Start: start, End: end, Columns: []string{"close", "ma25"}}

	sql, args, err := buildFeatureQuery(FeatureTable, q)
	require.NoError(t, err)
	assert.Contains(t, sql, `SELECT "time", "close", "ma25"`)
	assert.Contains(t, sql, `FROM "feature_extracted_stock_trading_5min"`)
	assert.Contains(t, sql, `"time" > $2`)
	assert.Contains(t, sql, `ORDER BY "time"`)
	assert.NotContains(t, sql, "sz002166")
	assert.Equal(t, []any{"sz002166", start, end}, args)
}

func TestBuildFeatureQueryQuotesHostileNames(t *testing.T) {
	start := time.Date(2016, 11, 10, 0, 0, 0, 0, time.UTC)
	q := Query{Code: "x", Start: start, End: start.Add(time.Hour), Columns: []string{`close"; DROP TABLE t; --`}}
	sql, _, err := buildFeatureQuery(FeatureTable, q)
	require.NoError(t, err)
	assert.Contains(t, sql, `"close""; DROP TABLE t; --"`)
}

func TestBuildFeatureQueryRejectsBadInput(t *testing.T) {
	start := time.Date(2016, 11, 10, 0, 0, 0, 0, time.UTC)
	cases := map[string]Query{
		"no code":     {Start: start, End: start.Add(time.Hour), Columns: []string{"close"}},
		"no columns":  {Code: "x", Start: start, End: start.Add(time.Hour)},
		"empty range": {Code: "x", Start: start, End: start, Columns: []string{"close"}},
		"blank col":   {Code: "x", Start: start, End: start.Add(time.Hour), Columns: []string{""}},
	}
	for name, q := range cases {
		t.Run(name, func(t *testing.T) {
			_, _, err := buildFeatureQuery(FeatureTable, q)
			assert.Error(t, err)
		})
	}
}

func TestFlattenRoundTrip(t *testing.T) {
	window := [][]float64{{1, 2}, {3, 4}, {5, 6}}
	flat := flatten(window)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6}, flat)

	back, err := unflatten(flat, 3, 2)
	require.NoError(t, err)
	assert.Equal(t, window, back)

	_, err = unflatten(flat, 2, 2)
	assert.ErrorIs(t, err, cache.ErrShapeMismatch)
}

func TestEmbeddingIsZScored(t *testing.T) {
	v := embedding([]float64{1, 3})
	assert.InDeltaSlice(t, []float32{-1, 1}, v.Slice(), 1e-6)

	// same shape, different level
	w := embedding([]float64{101, 103})
	assert.InDeltaSlice(t, v.Slice(), w.Slice(), 1e-6)
}

func TestZScoreFlatAndEmpty(t *testing.T) {
	assert.Equal(t, []float64{0, 0, 0}, zscore([]float64{2, 2, 2}))
	assert.Empty(t, zscore(nil))
}

func TestNewEpochRecord(t *testing.T) {
	logs := train.Logs{"loss": 0.4, "val_loss": 0.5, "lr": 1, "mae": math.NaN()}
	rec := newEpochRecord(9, 2, logs)

	assert.Equal(t, uint(9), rec.RunID)
	assert.Equal(t, 3, rec.Epoch)
	assert.Equal(t, 0.4, rec.Loss)
	require.NotNil(t, rec.ValLoss)
	assert.Equal(t, 0.5, *rec.ValLoss)
	assert.NotContains(t, rec.Logs, "mae")
	assert.Len(t, rec.Logs, 3)

	rec = newEpochRecord(9, 0, train.Logs{"loss": 1})
	assert.Nil(t, rec.ValLoss)
	assert.Nil(t, rec.LR)
}

func TestBestLoss(t *testing.T) {
	assert.Nil(t, bestLoss(nil))

	best := bestLoss([]train.Logs{{"loss": 3, "val_loss": 2}, {"loss": 1, "val_loss": 1.5}, {"loss": 0.5, "val_loss": 1.7}})
	require.NotNil(t, best)
	assert.Equal(t, 1.5, *best)

	best = bestLoss([]train.Logs{{"loss": 3}, {"loss": 2}})
	require.NotNil(t, best)
	assert.Equal(t, 2.0, *best)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "training_runs", TrainingRun{}.TableName())
	assert.Equal(t, "training_epochs", EpochRecord{}.TableName())
}
