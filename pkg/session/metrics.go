package session

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "flcaption"

// Cycle outcomes recorded by Metrics.Cycles.
const (
	OutcomeTranscribed = "transcribed"
	OutcomeEmpty       = "empty"
	OutcomeFailed      = "failed"
	OutcomeSilent      = "silent"
	OutcomeShort       = "short"
)

// Metrics are the session's Prometheus collectors.
type Metrics struct {
	Cycles            *prometheus.CounterVec
	InferenceDuration prometheus.Histogram
	AudioDuration     prometheus.Histogram
	VADDuration       prometheus.Histogram
	VADErrors         prometheus.Counter
	BufferedSamples   prometheus.Gauge
	HistorySamples    prometheus.Gauge
}

// NewMetrics creates the session collectors and registers them on reg. A
// nil reg leaves them unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "cycles_total",
			Help:      "Inference cycles by outcome.",
		}, []string{"outcome"}),
		InferenceDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "inference_duration_seconds",
			Help:      "Wall-clock time of one backend Transcribe call.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
		}),
		AudioDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "audio_duration_seconds",
			Help:      "Length of the audio window passed to the backend.",
			Buckets:   prometheus.LinearBuckets(1, 1, 15),
		}),
		VADDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "vad",
			Name:      "duration_seconds",
			Help:      "Time spent scoring one buffer.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
		}),
		VADErrors: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "vad",
			Name:      "errors_total",
			Help:      "Gate failures; the cycle proceeds unfiltered.",
		}),
		BufferedSamples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "buffered_samples",
			Help:      "Samples received since the last inference.",
		}),
		HistorySamples: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "session",
			Name:      "history_samples",
			Help:      "Samples retained as decoding context.",
		}),
	}
}
