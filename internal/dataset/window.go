package dataset

import (
	"fmt"
	"time"
)

// WindowParams selects the lookback, horizon and columns of a windowing pass.
type WindowParams struct {
	Timesteps      int
	PredictionStep int
	Features       []string
	Target         string
}

func (p WindowParams) Validate() error {
	if p.Timesteps < 1 {
		return fmt.Errorf("timesteps must be >= 1, got %d", p.Timesteps)
	}
	if p.PredictionStep < 1 {
		return fmt.Errorf("prediction step must be >= 1, got %d", p.PredictionStep)
	}
	if len(p.Features) == 0 {
		return fmt.Errorf("at least one feature column is required")
	}
	if p.Target == "" {
		return fmt.Errorf("target column is required")
	}
	return nil
}

// Target is the value a sample should predict, with the timestamp of the
// row it was read from.
type Target struct {
	Value float64
	Time  time.Time
}

// Windowed is a (samples x timesteps x features) array with aligned targets.
type Windowed struct {
	Params WindowParams
	X      [][][]float64
	Y      []Target
}

func (w *Windowed) Len() int { return len(w.X) }

// Slice returns the samples in [from, to). The backing arrays are shared.
func (w *Windowed) Slice(from, to int) *Windowed {
	return &Windowed{Params: w.Params, X: w.X[from:to], Y: w.Y[from:to]}
}

// Values returns the target values in sample order.
func (w *Windowed) Values() []float64 {
	out := make([]float64, len(w.Y))
	for i, y := range w.Y {
		out[i] = y.Value
	}
	return out
}

// Window builds the sliding-window dataset. Sample j ends at row
// i = j + Timesteps, covers rows [i-Timesteps+1, i] and targets row
// i + PredictionStep. The first Timesteps rows and the last PredictionStep
// rows never produce a sample.
func Window(t *Table, p WindowParams) (*Windowed, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	featIdx, err := t.indices(p.Features)
	if err != nil {
		return nil, err
	}
	targetIdx, err := t.Index(p.Target)
	if err != nil {
		return nil, err
	}

	n := t.Len() - p.Timesteps - p.PredictionStep
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d rows, timesteps %d, horizon %d",
			ErrInsufficientRows, t.Len(), p.Timesteps, p.PredictionStep)
	}

	out := &Windowed{
		Params: p,
		X:      make([][][]float64, n),
		Y:      make([]Target, n),
	}
	for j := 0; j < n; j++ {
		i := j + p.Timesteps
		sample := make([][]float64, p.Timesteps)
		for s := 0; s < p.Timesteps; s++ {
			row := t.Rows[i-p.Timesteps+1+s]
			step := make([]float64, len(featIdx))
			for f, k := range featIdx {
				step[f] = row.Values[k]
			}
			sample[s] = step
		}
		out.X[j] = sample

		next := t.Rows[i+p.PredictionStep]
		out.Y[j] = Target{Value: next.Values[targetIdx], Time: next.Time}
	}
	return out, nil
}
