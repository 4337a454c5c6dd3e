package engine

import (
	"github.com/xkeyC/fl-caption/pkg/session"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are shared by every session launched with the same Env.
type Metrics struct {
	Session        *session.Metrics
	Active         prometheus.Gauge
	DroppedBatches prometheus.Counter
}

// NewMetrics creates and registers the engine collectors on reg. A nil reg
// leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Session: session.NewMetrics(reg),
		Active: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "flcaption",
			Name:      "sessions_active",
			Help:      "Sessions currently running.",
		}),
		DroppedBatches: f.NewCounter(prometheus.CounterOpts{
			Namespace: "flcaption",
			Subsystem: "capture",
			Name:      "dropped_batches_total",
			Help:      "Captured batches dropped because the session fell behind.",
		}),
	}
}
