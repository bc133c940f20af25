package model

import (
	"fmt"
	"math"
)

type Optimizer interface {
	Step(params []*Param)
	LearningRate() float64
	SetLearningRate(lr float64)
}

// Adadelta keeps running averages of squared gradients and squared updates.
type Adadelta struct {
	LR      float64
	Rho     float64
	Epsilon float64

	accGrad  map[*Param][]float64
	accDelta map[*Param][]float64
}

func NewAdadelta() *Adadelta {
	return &Adadelta{LR: 1.0, Rho: 0.95, Epsilon: 1e-8}
}

func (a *Adadelta) LearningRate() float64      { return a.LR }
func (a *Adadelta) SetLearningRate(lr float64) { a.LR = lr }

func (a *Adadelta) Step(params []*Param) {
	if a.accGrad == nil {
		a.accGrad = map[*Param][]float64{}
		a.accDelta = map[*Param][]float64{}
	}
	for _, p := range params {
		ag, ok := a.accGrad[p]
		if !ok {
			ag = make([]float64, len(p.Value))
			a.accGrad[p] = ag
			a.accDelta[p] = make([]float64, len(p.Value))
		}
		ad := a.accDelta[p]
		for i, g := range p.Grad {
			ag[i] = a.Rho*ag[i] + (1-a.Rho)*g*g
			update := g * math.Sqrt(ad[i]+a.Epsilon) / math.Sqrt(ag[i]+a.Epsilon)
			p.Value[i] -= a.LR * update
			ad[i] = a.Rho*ad[i] + (1-a.Rho)*update*update
		}
	}
}

// SGD with classical momentum.
type SGD struct {
	LR       float64
	Momentum float64

	velocity map[*Param][]float64
}

func NewSGD(lr, momentum float64) *SGD {
	return &SGD{LR: lr, Momentum: momentum}
}

func (s *SGD) LearningRate() float64      { return s.LR }
func (s *SGD) SetLearningRate(lr float64) { s.LR = lr }

func (s *SGD) Step(params []*Param) {
	if s.velocity == nil {
		s.velocity = map[*Param][]float64{}
	}
	for _, p := range params {
		v, ok := s.velocity[p]
		if !ok {
			v = make([]float64, len(p.Value))
			s.velocity[p] = v
		}
		for i, g := range p.Grad {
			v[i] = s.Momentum*v[i] - s.LR*g
			p.Value[i] += v[i]
		}
	}
}

func OptimizerByName(name string) (Optimizer, error) {
	switch name {
	case "adadelta":
		return NewAdadelta(), nil
	case "sgd":
		return NewSGD(0.01, 0.9), nil
	}
	return nil, fmt.Errorf("unknown optimizer %q", name)
}
