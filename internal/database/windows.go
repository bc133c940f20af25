package database

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/montanaflynn/stats"
	"github.com/pgvector/pgvector-go"

	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/dataset"
)

const windowSchema = `
CREATE EXTENSION IF NOT EXISTS vector;
CREATE TABLE IF NOT EXISTS window_samples (
	cache_key   text             NOT NULL,
	idx         integer          NOT NULL,
	timesteps   integer          NOT NULL,
	features    integer          NOT NULL,
	window_vals double precision[] NOT NULL,
	embedding   vector           NOT NULL,
	target      double precision NOT NULL,
	target_time timestamptz      NOT NULL,
	PRIMARY KEY (cache_key, idx)
);`

// WindowStore keeps windowed samples in Postgres. The exact values live in a
// double precision array; the embedding column is a z-scored float32 copy, so
// similarity lookups compare the shape of a window and not its price level.
type WindowStore struct {
	db *PostgresDB
}

func NewWindowStore(db *PostgresDB) *WindowStore {
	return &WindowStore{db: db}
}

func (s *WindowStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.Pool.Exec(ctx, windowSchema); err != nil {
		return fmt.Errorf("create window_samples: %w", err)
	}
	return nil
}

func flatten(window [][]float64) []float64 {
	var out []float64
	for _, step := range window {
		out = append(out, step...)
	}
	return out
}

func unflatten(flat []float64, timesteps, features int) ([][]float64, error) {
	if len(flat) != timesteps*features {
		return nil, fmt.Errorf("%w: %d values for %dx%d", cache.ErrShapeMismatch, len(flat), timesteps, features)
	}
	out := make([][]float64, timesteps)
	for t := range out {
		out[t] = flat[t*features : (t+1)*features]
	}
	return out, nil
}

// zEpsilon keeps flat windows from dividing by zero.
const zEpsilon = 1e-9

// zscore returns (x-mean)/std for every value.
func zscore(values []float64) []float64 {
	out := make([]float64, len(values))
	mean, err := stats.Mean(values)
	if err != nil {
		return out
	}
	std, err := stats.StandardDeviationPopulation(values)
	if err != nil {
		return out
	}
	for i, v := range values {
		out[i] = (v - mean) / (std + zEpsilon)
	}
	return out
}

// embedding z-scores the window with missing cells counted as zero;
// pgvector rejects NaN elements.
func embedding(flat []float64) pgvector.Vector {
	clean := make([]float64, len(flat))
	for i, x := range flat {
		if !math.IsNaN(x) && !math.IsInf(x, 0) {
			clean[i] = x
		}
	}
	z := zscore(clean)
	v := make([]float32, len(z))
	for i, x := range z {
		v[i] = float32(x)
	}
	return pgvector.NewVector(v)
}

// windowBatch queues one insert per sample. window_vals keeps the exact
// values, NaN included.
func windowBatch(key cache.Key, w *dataset.Windowed) *pgx.Batch {
	timesteps, features := w.Params.Timesteps, len(w.Params.Features)
	batch := &pgx.Batch{}
	for i, x := range w.X {
		flat := flatten(x)
		batch.Queue(`
			INSERT INTO window_samples (cache_key, idx, timesteps, features, window_vals, embedding, target, target_time)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			key.String(), i, timesteps, features, flat, embedding(flat), w.Y[i].Value, w.Y[i].Time,
		)
	}
	return batch
}

// Save replaces every sample stored under key.
func (s *WindowStore) Save(ctx context.Context, key cache.Key, w *dataset.Windowed) error {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM window_samples WHERE cache_key = $1`, key.String()); err != nil {
		return fmt.Errorf("clear %s: %w", key, err)
	}
	if err := tx.SendBatch(ctx, windowBatch(key, w)).Close(); err != nil {
		return fmt.Errorf("insert %s samples: %w", key, err)
	}
	return tx.Commit(ctx)
}

// Load reads the samples stored under key in index order.
func (s *WindowStore) Load(ctx context.Context, key cache.Key, params dataset.WindowParams) (*dataset.Windowed, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT timesteps, features, window_vals, target, target_time
		FROM window_samples
		WHERE cache_key = $1
		ORDER BY idx`, key.String())
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", key, err)
	}
	defer rows.Close()
	return scanWindows(rows, key, params)
}

func scanWindows(rows pgx.Rows, key cache.Key, params dataset.WindowParams) (*dataset.Windowed, error) {
	out := &dataset.Windowed{Params: params}
	want := len(params.Features)
	for rows.Next() {
		var (
			timesteps, features int
			flat                []float64
			target              float64
			at                  time.Time
		)
		if err := rows.Scan(&timesteps, &features, &flat, &target, &at); err != nil {
			return nil, fmt.Errorf("scan %s: %w", key, err)
		}
		if timesteps != params.Timesteps || features != want {
			return nil, fmt.Errorf("%w: stored %dx%d, want %dx%d", cache.ErrShapeMismatch, timesteps, features, params.Timesteps, want)
		}
		x, err := unflatten(flat, timesteps, features)
		if err != nil {
			return nil, err
		}
		out.X = append(out.X, x)
		out.Y = append(out.Y, dataset.Target{Value: target, Time: at})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	if out.Len() == 0 {
		return nil, fmt.Errorf("%w: %s", cache.ErrCacheMiss, key)
	}
	return out, nil
}

// Neighbor is a stored sample close to a query window.
type Neighbor struct {
	Index      int
	Target     float64
	TargetTime time.Time
	Distance   float64
}

// Nearest returns the k stored samples under key closest to window by L2
// distance.
func (s *WindowStore) Nearest(ctx context.Context, key cache.Key, window [][]float64, k int) ([]Neighbor, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT idx, target, target_time, embedding <-> $2 AS distance
		FROM window_samples
		WHERE cache_key = $1
		ORDER BY distance
		LIMIT $3`, key.String(), embedding(flatten(window)), k)
	if err != nil {
		return nil, fmt.Errorf("nearest %s: %w", key, err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Neighbor, error) {
		var n Neighbor
		err := row.Scan(&n.Index, &n.Target, &n.TargetTime, &n.Distance)
		return n, err
	})
}
