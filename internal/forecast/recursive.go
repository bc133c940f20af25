package forecast

import (
	"fmt"
	"math/rand"
)

// Predictor is the part of a model a forecast needs.
type Predictor interface {
	Predict(x [][][]float64) ([][]float64, error)
}

// Recursive forecasts steps values of a univariate series. Each prediction,
// nudged by uniform noise in [-jitter, jitter), is shifted in as the newest
// input for the next step. Predictions are appended to acc and the grown
// slice is returned; window is not modified.
func Recursive(p Predictor, window []float64, steps int, jitter float64, rng *rand.Rand, acc []float64) ([]float64, error) {
	if len(window) == 0 {
		return acc, fmt.Errorf("empty input window")
	}
	input := make([][]float64, len(window))
	for i, v := range window {
		input[i] = []float64{v}
	}

	for step := 0; step < steps; step++ {
		out, err := p.Predict([][][]float64{input})
		if err != nil {
			return acc, fmt.Errorf("forecast step %d: %w", step, err)
		}
		next := out[0][0]
		acc = append(acc, next)

		fed := next
		if jitter > 0 && rng != nil {
			fed += (rng.Float64()*2 - 1) * jitter
		}
		input = append(input[1:], []float64{fed})
	}
	return acc, nil
}
