package model

import (
	"fmt"
	"math"
)

type Activation string

const (
	Linear      Activation = "linear"
	Tanh        Activation = "tanh"
	ReLU        Activation = "relu"
	Sigmoid     Activation = "sigmoid"
	HardSigmoid Activation = "hard_sigmoid"
)

func (a Activation) Validate() error {
	switch a {
	case "", Linear, Tanh, ReLU, Sigmoid, HardSigmoid:
		return nil
	}
	return fmt.Errorf("unknown activation %q", a)
}

func (a Activation) apply(z float64) float64 {
	switch a {
	case Tanh:
		return math.Tanh(z)
	case ReLU:
		return math.Max(0, z)
	case Sigmoid:
		return 1 / (1 + math.Exp(-z))
	case HardSigmoid:
		return math.Max(0, math.Min(1, 0.2*z+0.5))
	default:
		return z
	}
}

// derivative at pre-activation z.
func (a Activation) derivative(z float64) float64 {
	switch a {
	case Tanh:
		t := math.Tanh(z)
		return 1 - t*t
	case ReLU:
		if z > 0 {
			return 1
		}
		return 0
	case Sigmoid:
		s := 1 / (1 + math.Exp(-z))
		return s * (1 - s)
	case HardSigmoid:
		if z > -2.5 && z < 2.5 {
			return 0.2
		}
		return 0
	default:
		return 1
	}
}
