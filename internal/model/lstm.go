package model

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// LSTM gate blocks are laid out i, f, c, o along the 4*Units axis.
type LSTM struct {
	LayerName       string
	Units           int
	ReturnSequences bool
	// Stateful carries the final state of each batch slot into the next
	// batch. Gradients do not flow through the carried state.
	Stateful        bool
	InnerActivation Activation

	in        int
	kernel    *Param // 4*units x in
	recurrent *Param // 4*units x units
	bias      *Param // 4*units

	carryH map[int][]float64
	carryC map[int][]float64
}

func NewLSTM(name string, units int, returnSequences bool) *LSTM {
	return &LSTM{LayerName: name, Units: units, ReturnSequences: returnSequences, InnerActivation: HardSigmoid}
}

type lstmStep struct {
	x, hPrev, cPrev []float64
	zi, zf, zo      []float64
	i, f, g, o      []float64
	c, tanhC        []float64
}

type lstmCache struct {
	steps []lstmStep
}

func (l *LSTM) Name() string { return l.LayerName }

func (l *LSTM) Build(inputDim int, rng *rand.Rand) int {
	h := l.Units
	l.in = inputDim
	l.kernel = newParam("kernel", 4*h, inputDim)
	l.kernel.glorotUniform(rng, inputDim, 4*h)
	l.recurrent = newParam("recurrent_kernel", 4*h, h)
	l.recurrent.glorotUniform(rng, h, 4*h)
	l.bias = newParam("bias", 4*h)
	for k := h; k < 2*h; k++ {
		l.bias.Value[k] = 1
	}
	if l.InnerActivation == "" {
		l.InnerActivation = HardSigmoid
	}
	l.ResetStates()
	return h
}

func (l *LSTM) Params() []*Param { return []*Param{l.kernel, l.recurrent, l.bias} }

func (l *LSTM) ResetStates() {
	l.carryH = map[int][]float64{}
	l.carryC = map[int][]float64{}
}

func (l *LSTM) Forward(x [][]float64, pass Pass) ([][]float64, any) {
	h := l.Units
	hPrev := make([]float64, h)
	cPrev := make([]float64, h)
	if l.Stateful {
		if carried, ok := l.carryH[pass.Slot]; ok {
			copy(hPrev, carried)
			copy(cPrev, l.carryC[pass.Slot])
		}
	}

	cache := &lstmCache{steps: make([]lstmStep, len(x))}
	var out [][]float64
	z := make([]float64, 4*h)
	for t, xt := range x {
		for r := 0; r < 4*h; r++ {
			z[r] = floats.Dot(l.kernel.Value[r*l.in:(r+1)*l.in], xt) +
				floats.Dot(l.recurrent.Value[r*h:(r+1)*h], hPrev) +
				l.bias.Value[r]
		}
		st := lstmStep{
			x: xt, hPrev: hPrev, cPrev: cPrev,
			zi: append([]float64(nil), z[0:h]...),
			zf: append([]float64(nil), z[h:2*h]...),
			zo: append([]float64(nil), z[3*h:4*h]...),
			i:  make([]float64, h), f: make([]float64, h), g: make([]float64, h), o: make([]float64, h),
			c: make([]float64, h), tanhC: make([]float64, h),
		}
		hNext := make([]float64, h)
		for k := 0; k < h; k++ {
			st.i[k] = l.InnerActivation.apply(z[k])
			st.f[k] = l.InnerActivation.apply(z[h+k])
			st.g[k] = math.Tanh(z[2*h+k])
			st.o[k] = l.InnerActivation.apply(z[3*h+k])
			st.c[k] = st.f[k]*cPrev[k] + st.i[k]*st.g[k]
			st.tanhC[k] = math.Tanh(st.c[k])
			hNext[k] = st.o[k] * st.tanhC[k]
		}
		cache.steps[t] = st
		if l.ReturnSequences {
			out = append(out, hNext)
		}
		hPrev, cPrev = hNext, st.c
	}
	if !l.ReturnSequences {
		out = [][]float64{hPrev}
	}
	if l.Stateful {
		l.carryH[pass.Slot] = hPrev
		l.carryC[pass.Slot] = cPrev
	}
	return out, cache
}

func (l *LSTM) Backward(cache any, dy [][]float64) [][]float64 {
	c := cache.(*lstmCache)
	h := l.Units
	T := len(c.steps)
	dx := make([][]float64, T)
	dhNext := make([]float64, h)
	dcNext := make([]float64, h)
	dz := make([]float64, 4*h)

	for t := T - 1; t >= 0; t-- {
		st := c.steps[t]
		dh := append([]float64(nil), dhNext...)
		if l.ReturnSequences {
			floats.Add(dh, dy[t])
		} else if t == T-1 {
			floats.Add(dh, dy[0])
		}

		for k := 0; k < h; k++ {
			do := dh[k] * st.tanhC[k]
			dc := dh[k]*st.o[k]*(1-st.tanhC[k]*st.tanhC[k]) + dcNext[k]
			di := dc * st.g[k]
			dg := dc * st.i[k]
			df := dc * st.cPrev[k]
			dcNext[k] = dc * st.f[k]

			dz[k] = di * l.InnerActivation.derivative(st.zi[k])
			dz[h+k] = df * l.InnerActivation.derivative(st.zf[k])
			dz[2*h+k] = dg * (1 - st.g[k]*st.g[k])
			dz[3*h+k] = do * l.InnerActivation.derivative(st.zo[k])
		}

		dxt := make([]float64, l.in)
		dhPrev := make([]float64, h)
		for r := 0; r < 4*h; r++ {
			if dz[r] == 0 {
				continue
			}
			floats.AddScaled(l.kernel.Grad[r*l.in:(r+1)*l.in], dz[r], st.x)
			floats.AddScaled(l.recurrent.Grad[r*h:(r+1)*h], dz[r], st.hPrev)
			l.bias.Grad[r] += dz[r]
			floats.AddScaled(dxt, dz[r], l.kernel.Value[r*l.in:(r+1)*l.in])
			floats.AddScaled(dhPrev, dz[r], l.recurrent.Value[r*h:(r+1)*h])
		}
		dx[t] = dxt
		dhNext = dhPrev
	}
	return dx
}
