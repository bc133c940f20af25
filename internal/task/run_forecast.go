package task

import (
	"context"
	"fmt"

	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/model"
	"stock-lstm-research/internal/plot"
	"stock-lstm-research/internal/train"
)

// RunForecast trains a sequence model on the preset's windowed dataset with
// plateau LR reduction, best-only checkpointing and a live chart.
func (rt *Runtime) RunForecast(ctx context.Context, p *Preset) ([]train.Logs, error) {
	w, err := rt.Dataset(ctx, p)
	if err != nil {
		return nil, err
	}
	split, err := rt.partition(p, w)
	if err != nil {
		return nil, err
	}

	m, err := BuildModel(p, len(p.Features), p.BatchSize)
	if err != nil {
		return nil, err
	}
	if err := rt.restore(p, m); err != nil {
		return nil, err
	}

	trainSet := train.FromWindowed(split.Train)
	validation := train.FromWindowed(split.Validation)
	test := train.FromWindowed(split.Test)
	if validation.Len() == 0 {
		// single split: the held-out tail doubles as validation
		validation = test
	}

	chart := &train.ChartCallback{
		Every:  p.ChartEvery,
		Render: rt.trainingChart(p, m, w, split),
		Sinks:  rt.Sinks,
		Logger: rt.Logger,
	}
	callbacks := []train.Callback{chart}
	if p.TestEvery > 0 && split.Validation.Len() > 0 {
		callbacks = append(callbacks, &train.Tester{Model: m, Data: test, Every: p.TestEvery, Logger: rt.Logger})
	}
	callbacks = append(callbacks,
		train.NewModelCheckpoint(m, rt.weightPath(p), rt.Logger, rt.Sinks...),
		train.NewReduceLROnPlateau(m.Optimizer, rt.Logger),
	)
	callbacks = rt.epochCallbacks(p, callbacks...)

	trainer := train.NewTrainer(m, rt.Logger)
	trainer.Shuffle = p.Shuffle
	trainer.Seed = p.Seed
	return trainer.Fit(ctx, trainSet, validation, p.Epochs, callbacks...)
}

func (rt *Runtime) trainingChart(p *Preset, m *model.Sequential, w *dataset.Windowed, split *dataset.Split) train.RenderFunc {
	shift := 0
	if p.ShiftChart {
		shift = p.PredictionStep
	}
	truth := w.Slice(0, split.Total()).Values()
	path := rt.chartPath(p, "")

	return func(ctx context.Context, epoch int) (string, error) {
		trainPred, err := predictValues(m, split.Train)
		if err != nil {
			return "", fmt.Errorf("predict train: %w", err)
		}
		valPred, err := predictValues(m, split.Validation)
		if err != nil {
			return "", fmt.Errorf("predict validation: %w", err)
		}
		testPred, err := predictValues(m, split.Test)
		if err != nil {
			return "", fmt.Errorf("predict test: %w", err)
		}

		title := p.Title()
		if epoch >= 0 {
			title = fmt.Sprintf("%s (epoch %d)", title, epoch+1)
		}
		c := &plot.TrainingChart{
			Title:            title,
			Truth:            truth,
			Horizon:          shift,
			ValidationOffset: split.ValidationOffset,
			TestOffset:       split.TestOffset,
			Train:            trainPred,
			Validation:       valPred,
			Test:             testPred,
		}
		return path, c.Render(path)
	}
}

// predictValues returns the first output of every sample.
func predictValues(m *model.Sequential, w *dataset.Windowed) ([]float64, error) {
	if w.Len() == 0 {
		return nil, nil
	}
	out, err := m.Predict(w.X)
	if err != nil {
		return nil, err
	}
	values := make([]float64, len(out))
	for i, o := range out {
		values[i] = o[0]
	}
	return values, nil
}
