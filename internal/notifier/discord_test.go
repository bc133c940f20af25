package notifier

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublishSendsMultipart(t *testing.T) {
	var gotFile, gotContent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseMultipartForm(1<<20))
		f, hdr, err := r.FormFile("file")
		require.NoError(t, err)
		defer f.Close()
		b, _ := io.ReadAll(f)
		gotFile = hdr.Filename + ":" + string(b)
		gotContent = r.FormValue("content")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "epoch_5.png")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))

	d := NewDiscordClient(srv.URL, "close_step24", quiet())
	require.NoError(t, d.Publish(context.Background(), path))
	assert.Equal(t, "epoch_5.png:img", gotFile)
	assert.True(t, strings.HasPrefix(gotContent, "**close_step24**"))
}

func TestPublishFallsBackToText(t *testing.T) {
	var texts []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
			var payload map[string]string
			require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
			texts = append(texts, payload["content"])
			w.WriteHeader(http.StatusNoContent)
			return
		}
		w.WriteHeader(http.StatusRequestEntityTooLarge)
	}))
	defer srv.Close()

	path := filepath.Join(t.TempDir(), "big.png")
	require.NoError(t, os.WriteFile(path, []byte("img"), 0o644))

	d := NewDiscordClient(srv.URL, "ma40", quiet())
	err := d.Publish(context.Background(), path)
	assert.ErrorContains(t, err, "413")
	require.Len(t, texts, 1)
	assert.Contains(t, texts[0], "big.png")
}

func TestEmptyWebhookIsNoop(t *testing.T) {
	d := NewDiscordClient("", "x", quiet())
	assert.NoError(t, d.Publish(context.Background(), "/does/not/exist.png"))
	assert.NoError(t, d.SendText(context.Background(), "hi"))
}
