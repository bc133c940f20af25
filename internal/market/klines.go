package market

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"stock-lstm-research/internal/features"
)

// MaxKlines is the page size Binance allows per request.
const MaxKlines = 1500

// KlinesFunc fetches up to limit klines opening at or after startMs.
type KlinesFunc func(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*futures.Kline, error)

// FuturesKlines adapts a go-binance futures client.
func FuturesKlines(client *futures.Client) KlinesFunc {
	return func(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*futures.Kline, error) {
		return client.NewKlinesService().
			Symbol(symbol).
			Interval(interval).
			StartTime(startMs).
			Limit(limit).
			Do(ctx)
	}
}

// History pages through historical klines.
type History struct {
	Fetch  KlinesFunc
	Logger *slog.Logger
	// Pause between pages keeps us under the request weight limit.
	Pause time.Duration
}

func NewHistory(apiKey, apiSecret string, logger *slog.Logger) *History {
	return &History{
		Fetch:  FuturesKlines(futures.NewClient(apiKey, apiSecret)),
		Logger: logger,
		Pause:  100 * time.Millisecond,
	}
}

func ToCandle(k *futures.Kline) (features.Candle, error) {
	c := features.Candle{Time: time.UnixMilli(k.OpenTime).UTC()}
	fields := []struct {
		name string
		raw  string
		dst  *float64
	}{
		{"open", k.Open, &c.Open},
		{"high", k.High, &c.High},
		{"low", k.Low, &c.Low},
		{"close", k.Close, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := strconv.ParseFloat(f.raw, 64)
		if err != nil {
			return c, fmt.Errorf("kline %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return c, nil
}

// Candles returns the bars opening in [start, end).
func (h *History) Candles(ctx context.Context, symbol, interval string, start, end time.Time) ([]features.Candle, error) {
	var out []features.Candle
	cursor := start.UnixMilli()
	endMs := end.UnixMilli()

	for cursor < endMs {
		klines, err := h.Fetch(ctx, symbol, interval, cursor, MaxKlines)
		if err != nil {
			return nil, fmt.Errorf("fetch klines %s from %d: %w", symbol, cursor, err)
		}
		if len(klines) == 0 {
			break
		}
		for _, k := range klines {
			if k.OpenTime >= endMs {
				break
			}
			c, err := ToCandle(k)
			if err != nil {
				return nil, err
			}
			out = append(out, c)
		}

		last := klines[len(klines)-1]
		cursor = last.CloseTime + 1
		h.Logger.Debug("Fetched klines", "symbol", symbol, "count", len(out), "last", time.UnixMilli(last.OpenTime).UTC())

		if h.Pause > 0 && cursor < endMs {
			select {
			case <-time.After(h.Pause):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
	}
	h.Logger.Info("Kline download complete", "symbol", symbol, "interval", interval, "candles", len(out))
	return out, nil
}
