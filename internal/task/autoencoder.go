package task

import (
	"context"
	"fmt"
	"math"

	"stock-lstm-research/internal/dataset"
	"stock-lstm-research/internal/model"
	"stock-lstm-research/internal/plot"
	"stock-lstm-research/internal/train"
)

// TransformInputs flattens one feature of every window into an autoencoder
// input row. Values are cleaned (NaN and Inf become 0), scaled so [lo, hi]
// maps to [-0.5, 0.5], squashed with tanh, shifted by 2 and raised to the
// 10th power.
func TransformInputs(x [][][]float64, feature int, lo, hi float64) ([][]float64, error) {
	if hi <= lo {
		return nil, fmt.Errorf("scale range [%v, %v] is empty", lo, hi)
	}
	out := make([][]float64, len(x))
	for i, window := range x {
		row := make([]float64, len(window))
		for t, step := range window {
			if feature < 0 || feature >= len(step) {
				return nil, fmt.Errorf("feature %d out of range for %d columns", feature, len(step))
			}
			v := step[feature]
			if math.IsNaN(v) || math.IsInf(v, 0) {
				v = 0
			}
			v = (v-lo)/(hi-lo) - 0.5
			row[t] = math.Pow(math.Tanh(v)+2, 10)
		}
		out[i] = row
	}
	return out, nil
}

// reconstruction wraps transformed rows as single-step sequences whose
// target is the row itself.
func reconstruction(rows [][]float64) train.Data {
	return train.Data{X: model.AsSequences(rows), Y: rows}
}

// RunAutoencoder trains the dense autoencoder on one transformed feature and
// charts the 2-D encoding of the validation set coloured by target.
func (rt *Runtime) RunAutoencoder(ctx context.Context, p *Preset) ([]train.Logs, error) {
	w, err := rt.Dataset(ctx, p)
	if err != nil {
		return nil, err
	}
	split, err := rt.partition(p, w)
	if err != nil {
		return nil, err
	}

	sets := make([][][]float64, 3)
	for k, part := range []*dataset.Windowed{split.Train, split.Validation, split.Test} {
		if sets[k], err = TransformInputs(part.X, 0, p.ScaleMin, p.ScaleMax); err != nil {
			return nil, err
		}
	}
	trainSet, validation, test := reconstruction(sets[0]), reconstruction(sets[1]), reconstruction(sets[2])
	if validation.Len() == 0 {
		validation = test
	}

	m, err := BuildModel(p, p.Timesteps, p.BatchSize)
	if err != nil {
		return nil, err
	}
	if m.OutputDim() != p.Timesteps {
		return nil, fmt.Errorf("decoder emits %d values for %d inputs", m.OutputDim(), p.Timesteps)
	}
	if err := rt.restore(p, m); err != nil {
		return nil, err
	}
	encoder := m.Sub(0, p.EncoderLayers)

	targets := split.Validation.Values()
	if split.Validation.Len() == 0 {
		targets = split.Test.Values()
	}
	path := rt.chartPath(p, "_latent")
	render := func(ctx context.Context, epoch int) (string, error) {
		codes, err := encoder.Predict(validation.X)
		if err != nil {
			return "", err
		}
		s := &plot.LatentScatter{
			Title:   fmt.Sprintf("%s latent space (epoch %d)", p.Name, epoch+1),
			Codes:   codes,
			Targets: targets,
			DropTop: p.DropTop,
		}
		return path, s.Render(path)
	}

	callbacks := []train.Callback{
		&train.ChartCallback{Every: p.ChartEvery, Render: render, Sinks: rt.Sinks, Logger: rt.Logger},
		train.NewReduceLROnPlateau(m.Optimizer, rt.Logger),
		train.NewModelCheckpoint(m, rt.weightPath(p), rt.Logger, rt.Sinks...),
	}
	if p.TestEvery > 0 && split.Validation.Len() > 0 {
		callbacks = append(callbacks, &train.Tester{Model: m, Data: test, Every: p.TestEvery, Logger: rt.Logger})
	}
	callbacks = rt.epochCallbacks(p, callbacks...)

	trainer := train.NewTrainer(m, rt.Logger)
	trainer.Shuffle = p.Shuffle
	trainer.Seed = p.Seed
	return trainer.Fit(ctx, trainSet, validation, p.Epochs, callbacks...)
}
