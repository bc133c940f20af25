package cache

import (
	"context"
	"fmt"
	"log/slog"

	"stock-lstm-research/internal/dataset"
)

// BuildFunc fetches the raw table when the cache cannot serve a request.
type BuildFunc func(ctx context.Context) (*dataset.Table, error)

// LoadOrBuild serves a windowed dataset from store, falling back to fetching
// the table, windowing it and writing the result back.
func LoadOrBuild(ctx context.Context, logger *slog.Logger, store Store, key Key, params dataset.WindowParams, build BuildFunc) (*dataset.Windowed, error) {
	w, err := store.Load(ctx, key, params)
	if err == nil {
		logger.Info("Window cache hit", "key", key.String(), "samples", w.Len())
		return w, nil
	}
	if !Stale(err) {
		return nil, fmt.Errorf("load cache %s: %w", key, err)
	}
	logger.Info("Window cache miss, recomputing", "key", key.String(), "reason", err.Error())

	tbl, err := build(ctx)
	if err != nil {
		return nil, err
	}
	w, err = dataset.Window(tbl, params)
	if err != nil {
		return nil, err
	}
	if err := store.Save(ctx, key, w); err != nil {
		return nil, fmt.Errorf("save cache %s: %w", key, err)
	}
	logger.Info("Window cache written", "key", key.String(), "rows", tbl.Len(), "samples", w.Len())
	return w, nil
}
