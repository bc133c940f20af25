package market

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

const fiveMin = int64(5 * 60 * 1000)

func kline(openMs int64, close string) *futures.Kline {
	return &futures.Kline{
		OpenTime:  openMs,
		CloseTime: openMs + fiveMin - 1,
		Open:      "1.5",
		High:      "2",
		Low:       "1",
		Close:     close,
		Volume:    "100",
	}
}

func TestToCandle(t *testing.T) {
	c, err := ToCandle(kline(1_600_000_000_000, "1.75"))
	require.NoError(t, err)
	assert.Equal(t, time.UnixMilli(1_600_000_000_000).UTC(), c.Time)
	assert.Equal(t, 1.5, c.Open)
	assert.Equal(t, 1.75, c.Close)
	assert.Equal(t, 100.0, c.Volume)

	_, err = ToCandle(kline(0, "n/a"))
	assert.ErrorContains(t, err, "close")
}

func TestHistoryPaginates(t *testing.T) {
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * 5 * time.Minute)

	var starts []int64
	h := &History{
		Logger: quiet(),
		Fetch: func(ctx context.Context, symbol, interval string, startMs int64, limit int) ([]*futures.Kline, error) {
			starts = append(starts, startMs)
			// pages of four bars, with more data than requested past end
			var out []*futures.Kline
			for i := int64(0); i < 4; i++ {
				out = append(out, kline(startMs+i*fiveMin, "1"))
			}
			return out, nil
		},
	}

	candles, err := h.Candles(context.Background(), "BTCUSDT", "5m", start, end)
	require.NoError(t, err)
	assert.Len(t, candles, 10)
	assert.Len(t, starts, 3)
	assert.Equal(t, start, candles[0].Time)
	assert.Equal(t, start.Add(9*5*time.Minute), candles[9].Time)
}

func TestHistoryStopsOnEmptyPage(t *testing.T) {
	h := &History{
		Logger: quiet(),
		Fetch: func(context.Context, string, string, int64, int) ([]*futures.Kline, error) {
			return nil, nil
		},
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	candles, err := h.Candles(context.Background(), "X", "5m", start, start.Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, candles)
}

func TestHistoryFetchError(t *testing.T) {
	h := &History{
		Logger: quiet(),
		Fetch: func(context.Context, string, string, int64, int) ([]*futures.Kline, error) {
			return nil, errors.New("418 banned")
		},
	}
	start := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	_, err := h.Candles(context.Background(), "X", "5m", start, start.Add(time.Hour))
	assert.ErrorContains(t, err, "418")
}

func TestKLineEventDecode(t *testing.T) {
	raw := `{"e":"kline","E":1600000000123,"s":"BTCUSDT","k":{"t":1600000000000,"T":1600000299999,"s":"BTCUSDT","i":"5m","o":"10.5","c":"11","h":"12","l":"10","v":"3.25","x":true}}`
	var ev KLineEvent
	require.NoError(t, json.Unmarshal([]byte(raw), &ev))
	assert.Equal(t, int64(1600000000123), ev.EventTimestamp)
	assert.True(t, ev.KLine.IsClose)

	c, err := ev.Candle()
	require.NoError(t, err)
	assert.Equal(t, 10.5, c.Open)
	assert.Equal(t, 11.0, c.Close)
	assert.Equal(t, 3.25, c.Volume)
}

func TestClosedCandlesFiltersOpenBars(t *testing.T) {
	events := make(chan KLineEvent, 3)
	events <- KLineEvent{KLine: KLineData{StartTime: 1, OpenPrice: "1", ClosePrice: "1", HighPrice: "1", LowPrice: "1", Volume: "1"}}
	events <- KLineEvent{KLine: KLineData{StartTime: 2, OpenPrice: "2", ClosePrice: "2", HighPrice: "2", LowPrice: "2", Volume: "2", IsClose: true}}
	events <- KLineEvent{KLine: KLineData{StartTime: 3, OpenPrice: "x", IsClose: true}}
	close(events)

	var got []float64
	for c := range ClosedCandles(context.Background(), events, quiet()) {
		got = append(got, c.Close)
	}
	assert.Equal(t, []float64{2}, got)
}

func TestStreamerReadsUntilCancelled(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/btcusdt@kline_5m"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"E":1,"s":"BTCUSDT","k":{"t":0,"o":"1","c":"2","h":"3","l":"0.5","v":"9","x":true}}`
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
		// hold the connection open until the client goes away
		_, _, _ = conn.ReadMessage()
	}))
	defer srv.Close()

	base := "ws" + strings.TrimPrefix(srv.URL, "http")
	s := newKLineStreamer(base, "BTCUSDT", "5m", quiet())
	s.Backoff = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go s.Start(ctx)

	select {
	case ev := <-s.DataChan:
		assert.Equal(t, "BTCUSDT", ev.Symbol)
		c, err := ev.Candle()
		require.NoError(t, err)
		assert.Equal(t, 2.0, c.Close)
	case <-time.After(5 * time.Second):
		t.Fatal("no event received")
	}

	cancel()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case _, ok := <-s.DataChan:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatal("streamer did not stop")
		}
	}
}
