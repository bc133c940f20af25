package metrics

import (
	"context"
	"log/slog"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"stock-lstm-research/internal/train"
)

// Telemetry exposes per-epoch training scores as gauges and pushes them to a
// Pushgateway grouped by task. With an empty URL it only updates the local
// registry.
type Telemetry struct {
	Registry *prometheus.Registry
	Logger   *slog.Logger

	scores *prometheus.GaugeVec
	epoch  prometheus.Gauge
	epochs prometheus.Counter
	pusher *push.Pusher
}

func NewTelemetry(pushURL, job, task string, logger *slog.Logger) *Telemetry {
	reg := prometheus.NewRegistry()
	t := &Telemetry{
		Registry: reg,
		Logger:   logger,
		scores: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "lstm_research",
				Subsystem: "training",
				Name:      "score",
				Help:      "Latest epoch value of each loss, metric and learning rate",
			},
			[]string{"name"},
		),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "lstm_research",
			Subsystem: "training",
			Name:      "epoch",
			Help:      "Last completed epoch",
		}),
		epochs: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "lstm_research",
			Subsystem: "training",
			Name:      "epochs_total",
			Help:      "Epochs completed by this process",
		}),
	}
	reg.MustRegister(t.scores, t.epoch, t.epochs)

	if pushURL != "" {
		t.pusher = push.New(pushURL, job).Gatherer(reg).Grouping("task", task)
	}
	return t
}

func (t *Telemetry) OnEpochEnd(ctx context.Context, epoch int, logs train.Logs) error {
	for _, k := range logs.Keys() {
		v := logs[k]
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		t.scores.WithLabelValues(k).Set(v)
	}
	t.epoch.Set(float64(epoch + 1))
	t.epochs.Inc()

	if t.pusher != nil {
		if err := t.pusher.PushContext(ctx); err != nil {
			t.Logger.Warn("Pushgateway push failed", "epoch", epoch+1, "error", err)
		}
	}
	return nil
}
