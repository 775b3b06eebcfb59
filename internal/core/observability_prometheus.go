package core

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetricsRecorder exposes remote call latency and failures as
// Prometheus collectors on a private registry.
type PrometheusMetricsRecorder struct {
	registry *prometheus.Registry
	latency  *prometheus.HistogramVec
	failures *prometheus.CounterVec
}

// NewPrometheusMetricsRecorder registers the collectors on a fresh registry.
func NewPrometheusMetricsRecorder() *PrometheusMetricsRecorder {
	r := &PrometheusMetricsRecorder{
		registry: prometheus.NewRegistry(),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "morphic",
			Subsystem: "catalogue",
			Name:      "call_duration_seconds",
			Help:      "Latency of catalogue calls by operation.",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"operation"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "morphic",
			Subsystem: "catalogue",
			Name:      "call_failures_total",
			Help:      "Failed catalogue calls by operation.",
		}, []string{"operation"}),
	}
	r.registry.MustRegister(r.latency, r.failures)
	return r
}

// Registry returns the registry holding the collectors.
func (r *PrometheusMetricsRecorder) Registry() *prometheus.Registry { return r.registry }

// Observe implements MetricsRecorder.
func (r *PrometheusMetricsRecorder) Observe(_ context.Context, operation string, success bool, duration time.Duration) {
	r.latency.WithLabelValues(operation).Observe(duration.Seconds())
	if !success {
		r.failures.WithLabelValues(operation).Inc()
	}
}

// WriteTextfile writes the current metrics in the node exporter textfile
// format.
func (r *PrometheusMetricsRecorder) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, r.registry)
}

// MultiMetrics fans one observation out to several recorders.
type MultiMetrics []MetricsRecorder

// Observe implements MetricsRecorder.
func (m MultiMetrics) Observe(ctx context.Context, operation string, success bool, duration time.Duration) {
	for _, rec := range m {
		rec.Observe(ctx, operation, success, duration)
	}
}
