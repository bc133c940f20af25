package market

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"stock-lstm-research/internal/features"
)

const futuresStreamURL = "wss://fstream.binance.com/ws"

type KLineEvent struct {
	EventTimestamp int64     `json:"E"`
	Symbol         string    `json:"s"`
	KLine          KLineData `json:"k"`
}

type KLineData struct {
	StartTime int64  `json:"t"`
	EndTime   int64  `json:"T"`
	Symbol    string `json:"s"`
	Interval  string `json:"i"`

	OpenPrice  json.Number `json:"o"`
	ClosePrice json.Number `json:"c"`
	HighPrice  json.Number `json:"h"`
	LowPrice   json.Number `json:"l"`
	Volume     json.Number `json:"v"`

	IsClose bool `json:"x"`
}

// Candle converts the bar carried by the event.
func (e KLineEvent) Candle() (features.Candle, error) {
	k := e.KLine
	c := features.Candle{Time: time.UnixMilli(k.StartTime).UTC()}
	fields := []struct {
		name string
		raw  json.Number
		dst  *float64
	}{
		{"open", k.OpenPrice, &c.Open},
		{"high", k.HighPrice, &c.High},
		{"low", k.LowPrice, &c.Low},
		{"close", k.ClosePrice, &c.Close},
		{"volume", k.Volume, &c.Volume},
	}
	for _, f := range fields {
		v, err := f.raw.Float64()
		if err != nil {
			return c, fmt.Errorf("kline %s %q: %w", f.name, f.raw, err)
		}
		*f.dst = v
	}
	return c, nil
}

// KLineStreamer follows a futures kline stream and reconnects on failure.
type KLineStreamer struct {
	Symbol   string
	Interval string
	DataChan chan KLineEvent
	Logger   *slog.Logger
	// Backoff is the pause before a reconnect.
	Backoff time.Duration

	wsUrl string
}

func NewKLineStreamer(
	symbol string,
	interval string,
	logger *slog.Logger,
) *KLineStreamer {
	return newKLineStreamer(futuresStreamURL, symbol, interval, logger)
}

func newKLineStreamer(base, symbol, interval string, logger *slog.Logger) *KLineStreamer {
	url := fmt.Sprintf("%s/%s@kline_%s", base, strings.ToLower(symbol), interval)
	return &KLineStreamer{
		Symbol:   symbol,
		Interval: interval,
		DataChan: make(chan KLineEvent, 100),
		Logger:   logger,
		Backoff:  5 * time.Second,
		wsUrl:    url,
	}
}

// Start reads events into DataChan until ctx is done, then closes it.
func (s *KLineStreamer) Start(ctx context.Context) {
	s.Logger.Info("Starting KLineStreamer", "symbol", s.Symbol, "interval", s.Interval)
	defer close(s.DataChan)

	for ctx.Err() == nil {
		s.Logger.Info("Connecting to Binance stream", "url", s.wsUrl)
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.wsUrl, nil)
		if err != nil {
			s.Logger.Error("Connection failed", "error", err)
			s.sleep(ctx, s.Backoff)
			continue
		}
		s.Logger.Info("Connected to Binance")

		s.read(ctx, conn)
		conn.Close()
		s.sleep(ctx, time.Second)
	}
}

func (s *KLineStreamer) read(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			// unblocks ReadMessage
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				s.Logger.Error("Reading error", "error", err)
			}
			return
		}

		var event KLineEvent
		if err := json.Unmarshal(message, &event); err != nil {
			s.Logger.Error("Json parse error", "error", err)
			continue
		}

		select {
		case s.DataChan <- event:
		case <-ctx.Done():
			return
		}
	}
}

func (s *KLineStreamer) sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// ClosedCandles forwards only finished bars from events.
func ClosedCandles(ctx context.Context, events <-chan KLineEvent, logger *slog.Logger) <-chan features.Candle {
	out := make(chan features.Candle)
	go func() {
		defer close(out)
		for ev := range events {
			if !ev.KLine.IsClose {
				continue
			}
			c, err := ev.Candle()
			if err != nil {
				logger.Warn("Skipping kline", "error", err)
				continue
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}
