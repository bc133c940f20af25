package model

import (
	"fmt"
	"math/rand"
)

// Sequential chains layers. BatchSize > 0 fixes the batch dimension the way
// a stateful recurrent graph does: every call must cover whole batches.
type Sequential struct {
	Layers    []Layer
	InputDim  int
	BatchSize int

	Loss      Loss
	Metrics   []Metric
	Optimizer Optimizer

	dims []int
	rng  *rand.Rand
}

// NewSequential builds layers for inputDim features per step. seed fixes
// weight initialisation and dropout masks.
func NewSequential(inputDim, batchSize int, seed int64, layers ...Layer) *Sequential {
	m := &Sequential{
		Layers:    layers,
		InputDim:  inputDim,
		BatchSize: batchSize,
		rng:       rand.New(rand.NewSource(seed)),
	}
	dim := inputDim
	m.dims = append(m.dims, dim)
	for _, l := range layers {
		dim = l.Build(dim, m.rng)
		m.dims = append(m.dims, dim)
	}
	return m
}

// Compile attaches the training objective.
func (m *Sequential) Compile(loss Loss, opt Optimizer, metrics ...Metric) {
	m.Loss = loss
	m.Optimizer = opt
	m.Metrics = metrics
}

// OutputDim is the width of a prediction.
func (m *Sequential) OutputDim() int { return m.dims[len(m.dims)-1] }

// Sub returns a model over Layers[from:to] sharing the same parameters.
func (m *Sequential) Sub(from, to int) *Sequential {
	return &Sequential{
		Layers:   m.Layers[from:to],
		InputDim: m.dims[from],
		dims:     m.dims[from : to+1],
		rng:      m.rng,
	}
}

func (m *Sequential) Params() []*Param {
	var out []*Param
	for _, l := range m.Layers {
		out = append(out, l.Params()...)
	}
	return out
}

func (m *Sequential) ResetStates() {
	for _, l := range m.Layers {
		if s, ok := l.(stateful); ok {
			s.ResetStates()
		}
	}
}

func (m *Sequential) checkBatch(n int) error {
	if m.BatchSize > 0 && n%m.BatchSize != 0 {
		return fmt.Errorf("%w: %d samples, batch size %d", ErrPartialBatch, n, m.BatchSize)
	}
	return nil
}

func (m *Sequential) slot(i int) int {
	if m.BatchSize > 0 {
		return i % m.BatchSize
	}
	return 0
}

// forward returns the last output step, the per-layer caches and the
// length of the final output sequence.
func (m *Sequential) forward(x [][]float64, pass Pass) ([]float64, []any, int) {
	caches := make([]any, len(m.Layers))
	seq := x
	for k, l := range m.Layers {
		seq, caches[k] = l.Forward(seq, pass)
	}
	return seq[len(seq)-1], caches, len(seq)
}

// Predict returns one output vector per sample.
func (m *Sequential) Predict(x [][][]float64) ([][]float64, error) {
	if err := m.checkBatch(len(x)); err != nil {
		return nil, err
	}
	out := make([][]float64, len(x))
	for i, sample := range x {
		out[i], _, _ = m.forward(sample, Pass{Slot: m.slot(i)})
	}
	return out, nil
}

// TrainBatch runs one optimizer step over x and returns the batch loss and
// metrics, measured on the pre-step predictions.
func (m *Sequential) TrainBatch(x [][][]float64, y [][]float64) (map[string]float64, error) {
	if m.Loss == nil || m.Optimizer == nil {
		return nil, fmt.Errorf("model is not compiled")
	}
	preds, err := m.backprop(x, y)
	if err != nil {
		return nil, err
	}
	m.Optimizer.Step(m.Params())
	return m.Score(preds, y), nil
}

// backprop leaves d(loss)/d(param) of the batch in every Param.Grad and
// returns the predictions it differentiated.
func (m *Sequential) backprop(x [][][]float64, y [][]float64) ([][]float64, error) {
	if len(x) != len(y) {
		return nil, fmt.Errorf("%d samples but %d targets", len(x), len(y))
	}
	if err := m.checkBatch(len(x)); err != nil {
		return nil, err
	}
	for _, p := range m.Params() {
		p.zeroGrad()
	}

	preds := make([][]float64, len(x))
	caches := make([][]any, len(x))
	steps := make([]int, len(x))
	for i, sample := range x {
		preds[i], caches[i], steps[i] = m.forward(sample, Pass{Training: true, Slot: m.slot(i), Rand: m.rng})
	}

	_, grad := m.Loss.Eval(preds, y)
	for i := range x {
		dy := make([][]float64, steps[i])
		for t := range dy {
			dy[t] = make([]float64, m.OutputDim())
		}
		dy[len(dy)-1] = grad[i]
		for k := len(m.Layers) - 1; k >= 0; k-- {
			dy = m.Layers[k].Backward(caches[i][k], dy)
		}
	}
	return preds, nil
}

// Evaluate scores x against y with the loss and every metric.
func (m *Sequential) Evaluate(x [][][]float64, y [][]float64) (map[string]float64, error) {
	pred, err := m.Predict(x)
	if err != nil {
		return nil, err
	}
	return m.Score(pred, y), nil
}

// Score applies the loss and metrics to precomputed predictions.
func (m *Sequential) Score(pred, y [][]float64) map[string]float64 {
	out := map[string]float64{}
	if m.Loss != nil {
		out["loss"], _ = m.Loss.Eval(pred, y)
	}
	for _, metric := range m.Metrics {
		out[metric.Name()] = metric.Value(pred, y)
	}
	return out
}

// Column turns scalar targets into single-output rows.
func Column(values []float64) [][]float64 {
	out := make([][]float64, len(values))
	for i, v := range values {
		out[i] = []float64{v}
	}
	return out
}

// AsSequences wraps flat vectors as one-step sequences for dense stacks.
func AsSequences(rows [][]float64) [][][]float64 {
	out := make([][][]float64, len(rows))
	for i, r := range rows {
		out[i] = [][]float64{r}
	}
	return out
}
