package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sort"

	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/model"
)

// ErrStopTraining is returned by a callback to end Fit early without error.
var ErrStopTraining = errors.New("stop training")

// Logs holds the per-epoch scores: loss, val_loss, <metric>, val_<metric>, lr.
type Logs map[string]float64

// Keys returns the log names in a stable order.
func (l Logs) Keys() []string {
	keys := make([]string, 0, len(l))
	for k := range l {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Callback observes the end of every epoch.
type Callback interface {
	OnEpochEnd(ctx context.Context, epoch int, logs Logs) error
}

// TrainBeginner is implemented by callbacks that need setup.
type TrainBeginner interface {
	OnTrainBegin(ctx context.Context) error
}

// TrainEnder is implemented by callbacks that need to flush on exit.
type TrainEnder interface {
	OnTrainEnd(ctx context.Context, history []Logs) error
}

// Data is a supervised set ready for the model.
type Data struct {
	X [][][]float64
	Y [][]float64
}

func (d Data) Len() int { return len(d.X) }

// FromWindowed adapts a windowed split into single-output training data.
func FromWindowed(w *dataset.Windowed) Data {
	return Data{X: w.X, Y: model.Column(w.Values())}
}

type Trainer struct {
	Model  *model.Sequential
	Logger *slog.Logger
	// Shuffle permutes training samples each epoch with a seeded source.
	Shuffle bool
	Seed    int64
}

func NewTrainer(m *model.Sequential, logger *slog.Logger) *Trainer {
	return &Trainer{Model: m, Logger: logger, Seed: 7}
}

// Fit trains for up to epochs passes over train. Validation scores come from
// validation; an empty validation set leaves val_* out of the logs.
func (t *Trainer) Fit(ctx context.Context, trainSet, validation Data, epochs int, callbacks ...Callback) ([]Logs, error) {
	batch := t.Model.BatchSize
	if batch <= 0 {
		batch = 32
	}
	if trainSet.Len() == 0 {
		return nil, fmt.Errorf("empty training set")
	}

	for _, cb := range callbacks {
		if b, ok := cb.(TrainBeginner); ok {
			if err := b.OnTrainBegin(ctx); err != nil {
				return nil, err
			}
		}
	}

	rng := rand.New(rand.NewSource(t.Seed))
	var history []Logs
	var fitErr error

loop:
	for epoch := 0; epoch < epochs; epoch++ {
		t.Model.ResetStates()
		order := make([]int, trainSet.Len())
		for i := range order {
			order[i] = i
		}
		if t.Shuffle {
			rng.Shuffle(len(order), func(i, j int) { order[i], order[j] = order[j], order[i] })
		}

		sums := Logs{}
		seen := 0
		for start := 0; start < len(order); start += batch {
			if err := ctx.Err(); err != nil {
				fitErr = err
				break loop
			}
			end := start + batch
			if end > len(order) {
				end = len(order)
			}
			x := make([][][]float64, 0, end-start)
			y := make([][]float64, 0, end-start)
			for _, i := range order[start:end] {
				x = append(x, trainSet.X[i])
				y = append(y, trainSet.Y[i])
			}
			scores, err := t.Model.TrainBatch(x, y)
			if err != nil {
				fitErr = fmt.Errorf("epoch %d batch at %d: %w", epoch, start, err)
				break loop
			}
			for k, v := range scores {
				sums[k] += v * float64(len(x))
			}
			seen += len(x)
		}

		logs := Logs{}
		for k, v := range sums {
			logs[k] = v / float64(seen)
		}
		if validation.Len() > 0 {
			scores, err := t.Model.Evaluate(validation.X, validation.Y)
			if err != nil {
				fitErr = fmt.Errorf("epoch %d validation: %w", epoch, err)
				break loop
			}
			for k, v := range scores {
				logs["val_"+k] = v
			}
		}
		logs["lr"] = t.Model.Optimizer.LearningRate()

		t.Logger.Info("Epoch finished", "epoch", epoch+1, "of", epochs, "loss", logs["loss"], "val_loss", logs["val_loss"], "lr", logs["lr"])
		history = append(history, logs)

		for _, cb := range callbacks {
			if err := cb.OnEpochEnd(ctx, epoch, logs); err != nil {
				if errors.Is(err, ErrStopTraining) {
					t.Logger.Info("Training stopped by callback", "epoch", epoch+1)
					break loop
				}
				fitErr = err
				break loop
			}
		}
	}

	for _, cb := range callbacks {
		if e, ok := cb.(TrainEnder); ok {
			if err := e.OnTrainEnd(ctx, history); err != nil {
				t.Logger.Error("Callback teardown failed", "error", err)
			}
		}
	}
	return history, fitErr
}
