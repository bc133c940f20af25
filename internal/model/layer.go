package model

import (
	"errors"
	"math"
	"math/rand"
)

var (
	ErrPartialBatch  = errors.New("sample count is not a multiple of the fixed batch size")
	ErrShapeMismatch = errors.New("weight shape mismatch")
)

// Param is one trainable tensor, stored flat in row-major order.
type Param struct {
	Name  string
	Shape []int
	Value []float64
	Grad  []float64
}

func newParam(name string, shape ...int) *Param {
	n := 1
	for _, d := range shape {
		n *= d
	}
	return &Param{Name: name, Shape: shape, Value: make([]float64, n), Grad: make([]float64, n)}
}

func (p *Param) zeroGrad() {
	for i := range p.Grad {
		p.Grad[i] = 0
	}
}

// glorotUniform fills p with U(-l, l), l = sqrt(6 / (fanIn + fanOut)).
func (p *Param) glorotUniform(rng *rand.Rand, fanIn, fanOut int) {
	limit := math.Sqrt(6.0 / float64(fanIn+fanOut))
	for i := range p.Value {
		p.Value[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Pass carries per-sample forward state: whether we are training, which row
// of the fixed batch the sample occupies, and the dropout source.
type Pass struct {
	Training bool
	Slot     int
	Rand     *rand.Rand
}

// Layer maps a sequence (steps x features) to a sequence. Backward receives
// the cache Forward returned and accumulates parameter gradients.
type Layer interface {
	Name() string
	Build(inputDim int, rng *rand.Rand) int
	Forward(x [][]float64, pass Pass) ([][]float64, any)
	Backward(cache any, dy [][]float64) [][]float64
	Params() []*Param
}

type stateful interface {
	ResetStates()
}

func zerosLike(seq [][]float64) [][]float64 {
	out := make([][]float64, len(seq))
	for i, s := range seq {
		out[i] = make([]float64, len(s))
	}
	return out
}
