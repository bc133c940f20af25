package task

import (
	"fmt"

	"stock-lstm-research/internal/model"
)

func buildLayer(s LayerSpec) (model.Layer, error) {
	switch s.Kind {
	case "lstm":
		if s.Units < 1 {
			return nil, fmt.Errorf("layer %s: units must be >= 1", s.Name)
		}
		l := model.NewLSTM(s.Name, s.Units, s.ReturnSequences)
		l.Stateful = s.Stateful
		return l, nil
	case "dense":
		if s.Units < 1 {
			return nil, fmt.Errorf("layer %s: units must be >= 1", s.Name)
		}
		act := model.Activation(s.Activation)
		if err := act.Validate(); err != nil {
			return nil, fmt.Errorf("layer %s: %w", s.Name, err)
		}
		return model.NewDense(s.Name, s.Units, act), nil
	case "dropout":
		if s.Rate < 0 || s.Rate >= 1 {
			return nil, fmt.Errorf("layer %s: rate must be in [0,1)", s.Name)
		}
		return model.NewDropout(s.Name, s.Rate), nil
	}
	return nil, fmt.Errorf("layer %s: unknown kind %q", s.Name, s.Kind)
}

// BuildModel compiles the preset's network for inputDim values per step.
// batchSize 0 lifts the fixed batch constraint.
func BuildModel(p *Preset, inputDim, batchSize int) (*model.Sequential, error) {
	layers := make([]model.Layer, 0, len(p.Layers))
	names := map[string]bool{}
	for _, s := range p.Layers {
		if names[s.Name] {
			return nil, fmt.Errorf("duplicate layer name %q", s.Name)
		}
		names[s.Name] = true
		l, err := buildLayer(s)
		if err != nil {
			return nil, err
		}
		layers = append(layers, l)
	}

	loss, err := model.LossByName(p.Loss)
	if err != nil {
		return nil, err
	}
	opt, err := model.OptimizerByName(p.Optimizer)
	if err != nil {
		return nil, err
	}
	metrics := make([]model.Metric, 0, len(p.Metrics))
	for _, name := range p.Metrics {
		m, err := model.MetricByName(name)
		if err != nil {
			return nil, err
		}
		metrics = append(metrics, m)
	}

	m := model.NewSequential(inputDim, batchSize, p.Seed, layers...)
	m.Compile(loss, opt, metrics...)
	return m, nil
}
