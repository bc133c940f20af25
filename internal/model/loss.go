package model

import (
	"fmt"
	"math"
)

// Loss returns the batch value and d(value)/d(pred).
type Loss interface {
	Name() string
	Eval(pred, target [][]float64) (float64, [][]float64)
}

// Metric is a monitoring-only score over a batch or a whole split.
type Metric interface {
	Name() string
	Value(pred, target [][]float64) float64
}

type mseLoss struct{}

func (mseLoss) Name() string { return "mse" }

func (mseLoss) Eval(pred, target [][]float64) (float64, [][]float64) {
	n := count(pred)
	grad := zerosLike(pred)
	sum := 0.0
	for i := range pred {
		for k := range pred[i] {
			e := pred[i][k] - target[i][k]
			sum += e * e
			grad[i][k] = 2 * e / n
		}
	}
	return sum / n, grad
}

func (l mseLoss) Value(pred, target [][]float64) float64 {
	v, _ := l.Eval(pred, target)
	return v
}

type rmseLoss struct{}

func (rmseLoss) Name() string { return "rmse" }

func (rmseLoss) Eval(pred, target [][]float64) (float64, [][]float64) {
	n := count(pred)
	mse, _ := mseLoss{}.Eval(pred, target)
	v := math.Sqrt(mse)
	grad := zerosLike(pred)
	if v == 0 {
		return 0, grad
	}
	for i := range pred {
		for k := range pred[i] {
			grad[i][k] = (pred[i][k] - target[i][k]) / (n * v)
		}
	}
	return v, grad
}

func (l rmseLoss) Value(pred, target [][]float64) float64 {
	v, _ := l.Eval(pred, target)
	return v
}

type maeMetric struct{}

func (maeMetric) Name() string { return "mae" }

func (maeMetric) Value(pred, target [][]float64) float64 {
	sum := 0.0
	for i := range pred {
		for k := range pred[i] {
			sum += math.Abs(pred[i][k] - target[i][k])
		}
	}
	return sum / count(pred)
}

// meanErrorRate is the mean absolute error relative to the largest target.
type meanErrorRate struct{}

func (meanErrorRate) Name() string { return "mean_error_rate" }

func (meanErrorRate) Value(pred, target [][]float64) float64 {
	peak := math.Inf(-1)
	for i := range target {
		for _, v := range target[i] {
			peak = math.Max(peak, v)
		}
	}
	if peak == 0 || math.IsInf(peak, -1) {
		return math.NaN()
	}
	return maeMetric{}.Value(pred, target) / peak
}

func count(m [][]float64) float64 {
	n := 0
	for _, r := range m {
		n += len(r)
	}
	if n == 0 {
		return 1
	}
	return float64(n)
}

func LossByName(name string) (Loss, error) {
	switch name {
	case "mse":
		return mseLoss{}, nil
	case "rmse":
		return rmseLoss{}, nil
	}
	return nil, fmt.Errorf("unknown loss %q", name)
}

func MetricByName(name string) (Metric, error) {
	switch name {
	case "mse":
		return mseLoss{}, nil
	case "rmse":
		return rmseLoss{}, nil
	case "mae":
		return maeMetric{}, nil
	case "mean_error_rate":
		return meanErrorRate{}, nil
	}
	return nil, fmt.Errorf("unknown metric %q", name)
}
