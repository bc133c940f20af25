package train

import (
	"context"
	"log/slog"
)

// Sink receives rendered artifacts (charts, checkpoints) for publishing.
type Sink interface {
	Publish(ctx context.Context, path string) error
}

// RenderFunc redraws the live chart and returns the file it wrote.
type RenderFunc func(ctx context.Context, epoch int) (string, error)

// ChartCallback redraws the prediction chart every Every epochs. Failures
// are logged; they never stop training.
type ChartCallback struct {
	Every  int
	Render RenderFunc
	Sinks  []Sink
	Logger *slog.Logger
}

// OnTrainBegin draws the pre-training state (loaded or fresh weights).
func (c *ChartCallback) OnTrainBegin(ctx context.Context) error {
	c.draw(ctx, -1)
	return nil
}

func (c *ChartCallback) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	if c.Every <= 0 || epoch%c.Every != 0 {
		return nil
	}
	c.draw(ctx, epoch)
	return nil
}

func (c *ChartCallback) draw(ctx context.Context, epoch int) {
	path, err := c.Render(ctx, epoch)
	if err != nil {
		c.Logger.Error("Chart render failed", "epoch", epoch+1, "error", err)
		return
	}
	c.Logger.Debug("Chart redrawn", "epoch", epoch+1, "path", path)
	publish(ctx, c.Logger, c.Sinks, path)
}

func publish(ctx context.Context, logger *slog.Logger, sinks []Sink, path string) {
	for _, s := range sinks {
		if err := s.Publish(ctx, path); err != nil {
			logger.Warn("Publish failed", "path", path, "error", err)
		}
	}
}
