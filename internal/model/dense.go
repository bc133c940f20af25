package model

import (
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// Dense is a fully connected layer applied to every step of its input.
type Dense struct {
	LayerName  string
	Units      int
	Activation Activation

	in     int
	kernel *Param // units x in
	bias   *Param
}

func NewDense(name string, units int, act Activation) *Dense {
	return &Dense{LayerName: name, Units: units, Activation: act}
}

type denseCache struct {
	x [][]float64
	z [][]float64
}

func (d *Dense) Name() string { return d.LayerName }

func (d *Dense) Build(inputDim int, rng *rand.Rand) int {
	d.in = inputDim
	d.kernel = newParam("kernel", d.Units, inputDim)
	d.kernel.glorotUniform(rng, inputDim, d.Units)
	d.bias = newParam("bias", d.Units)
	return d.Units
}

func (d *Dense) Params() []*Param { return []*Param{d.kernel, d.bias} }

func (d *Dense) Forward(x [][]float64, pass Pass) ([][]float64, any) {
	c := &denseCache{x: x, z: make([][]float64, len(x))}
	out := make([][]float64, len(x))
	for t, xt := range x {
		z := make([]float64, d.Units)
		y := make([]float64, d.Units)
		for o := 0; o < d.Units; o++ {
			z[o] = floats.Dot(d.kernel.Value[o*d.in:(o+1)*d.in], xt) + d.bias.Value[o]
			y[o] = d.Activation.apply(z[o])
		}
		c.z[t] = z
		out[t] = y
	}
	return out, c
}

func (d *Dense) Backward(cache any, dy [][]float64) [][]float64 {
	c := cache.(*denseCache)
	dx := zerosLike(c.x)
	for t := range dy {
		for o := 0; o < d.Units; o++ {
			dz := dy[t][o] * d.Activation.derivative(c.z[t][o])
			if dz == 0 {
				continue
			}
			floats.AddScaled(d.kernel.Grad[o*d.in:(o+1)*d.in], dz, c.x[t])
			d.bias.Grad[o] += dz
			floats.AddScaled(dx[t], dz, d.kernel.Value[o*d.in:(o+1)*d.in])
		}
	}
	return dx
}
