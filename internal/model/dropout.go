package model

import "math/rand"

// Dropout zeroes a fraction of activations while training and rescales the
// rest so inference needs no correction.
type Dropout struct {
	LayerName string
	Rate      float64
}

func NewDropout(name string, rate float64) *Dropout {
	return &Dropout{LayerName: name, Rate: rate}
}

func (d *Dropout) Name() string { return d.LayerName }
func (d *Dropout) Build(inputDim int, rng *rand.Rand) int { return inputDim }
func (d *Dropout) Params() []*Param { return nil }

func (d *Dropout) Forward(x [][]float64, pass Pass) ([][]float64, any) {
	if !pass.Training || d.Rate <= 0 || pass.Rand == nil {
		return x, nil
	}
	keep := 1 - d.Rate
	mask := zerosLike(x)
	out := zerosLike(x)
	for t := range x {
		for k := range x[t] {
			if pass.Rand.Float64() < keep {
				mask[t][k] = 1 / keep
			}
			out[t][k] = x[t][k] * mask[t][k]
		}
	}
	return out, mask
}

func (d *Dropout) Backward(cache any, dy [][]float64) [][]float64 {
	mask, ok := cache.([][]float64)
	if !ok {
		return dy
	}
	dx := zerosLike(dy)
	for t := range dy {
		for k := range dy[t] {
			dx[t][k] = dy[t][k] * mask[t][k]
		}
	}
	return dx
}
