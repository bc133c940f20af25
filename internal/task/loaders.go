package task

import (
	"context"
	"fmt"

	"stock-lstm-research/internal/database"
	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/features"
	"stock-lstm-research/internal/market"
)

// FeatureTableLoader reads the preset's columns from the feature-extracted
// table.
func FeatureTableLoader(store *database.FeatureStore) TableLoader {
	return func(ctx context.Context, p *Preset) (*dataset.Table, error) {
		return store.Load(ctx, database.Query{
			Code:    p.Code,
			Start:   p.Start,
			End:     p.End,
			Columns: p.Columns(),
		})
	}
}

// KlineLoader downloads 5-minute klines for the preset's code, treated as a
// futures symbol, and derives the feature columns from them.
func KlineLoader(h *market.History) TableLoader {
	return func(ctx context.Context, p *Preset) (*dataset.Table, error) {
		if !p.ExtractedColumns() {
			return nil, fmt.Errorf("preset %s needs columns that klines cannot provide", p.Name)
		}
		candles, err := h.Candles(ctx, p.Code, "5m", p.Start, p.End)
		if err != nil {
			return nil, err
		}
		return features.Extract(candles)
	}
}
