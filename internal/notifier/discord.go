package notifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

type DiscordClient struct {
	WebhookURL string
	// Caption prefixes every message, typically the task name.
	Caption string
	Client  *http.Client
	Logger  *slog.Logger
}

func NewDiscordClient(webhookURL, caption string, logger *slog.Logger) *DiscordClient {
	return &DiscordClient{
		WebhookURL: webhookURL,
		Caption:    caption,
		Client:     &http.Client{Timeout: 10 * time.Second},
		Logger:     logger,
	}
}

// Publish posts a chart image. If the upload fails a text-only notice is
// sent instead and the upload error is returned.
func (d *DiscordClient) Publish(ctx context.Context, imagePath string) error {
	if d.WebhookURL == "" {
		return nil
	}
	content := fmt.Sprintf("**%s**\n%s", d.Caption, filepath.Base(imagePath))
	err := d.sendMultipart(ctx, content, imagePath)
	if err != nil {
		d.Logger.Warn("Webhook image failed, falling back to text", "path", imagePath, "error", err)
		if textErr := d.SendText(ctx, content); textErr != nil {
			d.Logger.Warn("Webhook text failed", "error", textErr)
		}
		return err
	}
	return nil
}

// SendText sends a lightweight JSON payload.
func (d *DiscordClient) SendText(ctx context.Context, content string) error {
	if d.WebhookURL == "" {
		return nil
	}
	jsonBody, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, bytes.NewReader(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return d.do(req)
}

func (d *DiscordClient) sendMultipart(ctx context.Context, content, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)

	// Discord expects the attachment under "file"
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	if err := writer.WriteField("content", content); err != nil {
		return err
	}
	if err := writer.Close(); err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.WebhookURL, body)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	return d.do(req)
}

func (d *DiscordClient) do(req *http.Request) error {
	resp, err := d.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("bad status: %s", resp.Status)
	}
	return nil
}
