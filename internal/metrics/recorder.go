// Package metrics exposes execution counters and latencies to Prometheus.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tradexec"

// Recorder records engine-level execution metrics. A nil *Recorder is valid
// and records nothing.
type Recorder struct {
	executionsTotal      *prometheus.CounterVec
	executionDuration    *prometheus.HistogramVec
	validationRejections *prometheus.CounterVec
	inflight             prometheus.Gauge
	outputBytes          *prometheus.HistogramVec
}

// NewRecorder registers the execution metrics on reg. A nil reg uses the
// default Prometheus registerer.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Recorder{
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "executions_total",
				Help:      "Total number of executions by outcome",
			},
			[]string{"status", "kind", "backend"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "End-to-end execution duration in seconds",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"backend"},
		),
		validationRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "validation_rejections_total",
				Help:      "Scripts rejected before execution",
			},
			[]string{"kind", "rule"},
		),
		inflight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "inflight_executions",
				Help:      "Executions currently holding a concurrency slot",
			},
		),
		outputBytes: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "output_bytes",
				Help:      "Combined stdout and stderr size per execution",
				Buckets:   prometheus.ExponentialBuckets(64, 8, 8),
			},
			[]string{"backend"},
		),
	}
}

// RecordExecution records one finished execution.
func (r *Recorder) RecordExecution(status, kind, backend string, duration time.Duration, outputBytes int) {
	if r == nil {
		return
	}
	if kind == "" {
		kind = "none"
	}
	r.executionsTotal.WithLabelValues(status, kind, backend).Inc()
	r.executionDuration.WithLabelValues(backend).Observe(duration.Seconds())
	r.outputBytes.WithLabelValues(backend).Observe(float64(outputBytes))
}

// RecordRejection records a script refused by the validator.
func (r *Recorder) RecordRejection(kind, rule string) {
	if r == nil {
		return
	}
	r.validationRejections.WithLabelValues(kind, rule).Inc()
}

// Acquire marks an execution as holding a slot and returns the release func.
func (r *Recorder) Acquire() func() {
	if r == nil {
		return func() {}
	}
	r.inflight.Inc()
	return r.inflight.Dec
}
