package task

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"stock-lstm-research/config"
	"stock-lstm-research/internal/cache"
	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/model"
	"stock-lstm-research/internal/train"
)

// TableLoader fetches the raw feature table a preset selects.
type TableLoader func(ctx context.Context, p *Preset) (*dataset.Table, error)

// Runtime carries the services a task runs against.
type Runtime struct {
	Logger *slog.Logger
	Paths  config.PathConfig
	Cache  cache.Store
	Load   TableLoader
	// Sinks receive every chart and checkpoint written.
	Sinks []train.Sink
	// Callbacks run after the built-in ones each epoch.
	Callbacks []train.Callback
}

// epochCallbacks appends the runtime's callbacks to builtin, then early
// stopping so reporters see the final epoch.
func (rt *Runtime) epochCallbacks(p *Preset, builtin ...train.Callback) []train.Callback {
	out := append(builtin, rt.Callbacks...)
	if p.EarlyStoppingPatience > 0 {
		out = append(out, train.NewEarlyStopping(p.EarlyStoppingPatience, rt.Logger))
	}
	return out
}

func (rt *Runtime) weightPath(p *Preset) string {
	return filepath.Join(rt.Paths.ModelDir, p.WeightFile+".json")
}

func (rt *Runtime) chartPath(p *Preset, suffix string) string {
	return filepath.Join(rt.Paths.ChartDir, p.Name+suffix+".png")
}

// Dataset serves the preset's windowed samples from the cache, building them
// from the table loader on a miss.
func (rt *Runtime) Dataset(ctx context.Context, p *Preset) (*dataset.Windowed, error) {
	if rt.Cache == nil {
		tbl, err := rt.Load(ctx, p)
		if err != nil {
			return nil, err
		}
		return dataset.Window(tbl, p.WindowParams())
	}
	return cache.LoadOrBuild(ctx, rt.Logger, rt.Cache, p.CacheKey(), p.WindowParams(), func(ctx context.Context) (*dataset.Table, error) {
		return rt.Load(ctx, p)
	})
}

// partition splits w and reports what alignment dropped.
func (rt *Runtime) partition(p *Preset, w *dataset.Windowed) (*dataset.Split, error) {
	split, err := dataset.Partition(w, p.SplitParams())
	if err != nil {
		return nil, err
	}
	if split.Dropped > 0 {
		rt.Logger.Warn("Samples dropped to fill whole batches", "task", p.Name, "dropped", split.Dropped, "batch_size", p.BatchSize)
	}
	rt.Logger.Info("Dataset partitioned",
		"task", p.Name,
		"samples", w.Len(),
		"train", split.Train.Len(),
		"validation", split.Validation.Len(),
		"test", split.Test.Len(),
	)
	return split, nil
}

// restore loads saved weights by layer name; a missing file starts cold.
func (rt *Runtime) restore(p *Preset, m *model.Sequential) error {
	path := rt.weightPath(p)
	loaded, err := m.LoadWeights(path)
	if err != nil {
		return fmt.Errorf("load weights %s: %w", path, err)
	}
	if loaded == nil {
		rt.Logger.Info("No saved weights, starting cold", "path", path)
		return nil
	}
	rt.Logger.Info("Weights restored", "path", path, "layers", loaded)
	return nil
}

// LoadModel builds the preset's network and restores its saved weights.
func (rt *Runtime) LoadModel(p *Preset, inputDim, batchSize int) (*model.Sequential, error) {
	m, err := BuildModel(p, inputDim, batchSize)
	if err != nil {
		return nil, err
	}
	if err := rt.restore(p, m); err != nil {
		return nil, err
	}
	return m, nil
}

// Run dispatches on the preset kind.
func (rt *Runtime) Run(ctx context.Context, p *Preset) error {
	if err := p.Validate(); err != nil {
		return err
	}
	if err := rt.Paths.EnsureDirs(); err != nil {
		return err
	}
	switch p.Kind {
	case KindForecast:
		_, err := rt.RunForecast(ctx, p)
		return err
	case KindAutoencoder:
		_, err := rt.RunAutoencoder(ctx, p)
		return err
	case KindWalkForward:
		_, err := rt.RunWalkForward(ctx, p, os.Stdout)
		return err
	}
	return fmt.Errorf("unknown kind %q", p.Kind)
}
