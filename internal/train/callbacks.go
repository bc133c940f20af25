package train

import (
	"context"
	"log/slog"
	"math"

	"stock-lstm-research/internal/model"
)

// monitored reads the watched score, falling back from val_* to the training
// score when there is no validation set.
func monitored(logs Logs, key string) (float64, bool) {
	if v, ok := logs[key]; ok && !math.IsNaN(v) {
		return v, true
	}
	if len(key) > 4 && key[:4] == "val_" {
		if v, ok := logs[key[4:]]; ok && !math.IsNaN(v) {
			return v, true
		}
	}
	return 0, false
}

// ReduceLROnPlateau multiplies the learning rate by Factor after Patience
// epochs without improvement, never going below MinLR.
type ReduceLROnPlateau struct {
	Optimizer model.Optimizer
	Logger    *slog.Logger
	Monitor   string
	Factor    float64
	Patience  int
	MinLR     float64
	MinDelta  float64
	Cooldown  int

	best     float64
	wait     int
	cooldown int
}

func NewReduceLROnPlateau(opt model.Optimizer, logger *slog.Logger) *ReduceLROnPlateau {
	return &ReduceLROnPlateau{
		Optimizer: opt,
		Logger:    logger,
		Monitor:   "val_loss",
		Factor:    0.2,
		Patience:  5,
		MinLR:     0.001,
		MinDelta:  1e-4,
		best:      math.Inf(1),
	}
}

func (r *ReduceLROnPlateau) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	current, ok := monitored(logs, r.Monitor)
	if !ok {
		return nil
	}
	if r.cooldown > 0 {
		r.cooldown--
		r.wait = 0
	}
	if current < r.best-r.MinDelta {
		r.best = current
		r.wait = 0
		return nil
	}
	if r.cooldown > 0 {
		return nil
	}
	r.wait++
	if r.wait < r.Patience {
		return nil
	}
	old := r.Optimizer.LearningRate()
	if old > r.MinLR {
		lr := math.Max(old*r.Factor, r.MinLR)
		r.Optimizer.SetLearningRate(lr)
		r.Logger.Info("Reducing learning rate", "epoch", epoch+1, "from", old, "to", lr)
		r.cooldown = r.Cooldown
	}
	r.wait = 0
	return nil
}

// ModelCheckpoint writes the model weights whenever the monitored score
// reaches a new minimum, or every epoch when SaveBestOnly is false.
type ModelCheckpoint struct {
	Model        *model.Sequential
	Path         string
	Monitor      string
	SaveBestOnly bool
	Sinks        []Sink
	Logger       *slog.Logger

	best float64
}

func NewModelCheckpoint(m *model.Sequential, path string, logger *slog.Logger, sinks ...Sink) *ModelCheckpoint {
	return &ModelCheckpoint{
		Model:        m,
		Path:         path,
		Monitor:      "val_loss",
		SaveBestOnly: true,
		Sinks:        sinks,
		Logger:       logger,
		best:         math.Inf(1),
	}
}

// Best is the lowest monitored score seen so far.
func (c *ModelCheckpoint) Best() float64 { return c.best }

func (c *ModelCheckpoint) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	current, ok := monitored(logs, c.Monitor)
	if c.SaveBestOnly {
		if !ok || current >= c.best {
			return nil
		}
		c.Logger.Info("Monitored score improved, saving weights", "epoch", epoch+1, "monitor", c.Monitor, "from", c.best, "to", current, "path", c.Path)
		c.best = current
	}
	if err := c.Model.SaveWeights(c.Path); err != nil {
		return err
	}
	publish(ctx, c.Logger, c.Sinks, c.Path)
	return nil
}

// EarlyStopping ends training after Patience epochs without improvement.
type EarlyStopping struct {
	Monitor  string
	Patience int
	MinDelta float64
	Logger   *slog.Logger

	best float64
	wait int
}

func NewEarlyStopping(patience int, logger *slog.Logger) *EarlyStopping {
	return &EarlyStopping{Monitor: "val_loss", Patience: patience, Logger: logger, best: math.Inf(1)}
}

func (e *EarlyStopping) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	current, ok := monitored(logs, e.Monitor)
	if !ok {
		return nil
	}
	if current < e.best-e.MinDelta {
		e.best = current
		e.wait = 0
		return nil
	}
	e.wait++
	if e.wait >= e.Patience {
		e.Logger.Info("Early stopping", "epoch", epoch+1, "best", e.best)
		return ErrStopTraining
	}
	return nil
}

// Tester scores a held-out set every Every epochs and adds test_* entries
// to the logs seen by later callbacks.
type Tester struct {
	Model  *model.Sequential
	Data   Data
	Every  int
	Logger *slog.Logger
}

func (t *Tester) OnEpochEnd(ctx context.Context, epoch int, logs Logs) error {
	if t.Data.Len() == 0 || t.Every <= 0 || epoch%t.Every != 0 {
		return nil
	}
	scores, err := t.Model.Evaluate(t.Data.X, t.Data.Y)
	if err != nil {
		t.Logger.Error("Test evaluation failed", "epoch", epoch+1, "error", err)
		return nil
	}
	args := []any{"epoch", epoch + 1}
	for k, v := range scores {
		logs["test_"+k] = v
		args = append(args, "test_"+k, v)
	}
	t.Logger.Info("Evaluation", args...)
	return nil
}
