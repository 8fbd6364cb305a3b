package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jakub-valenta/helpers/pkg/errors"
)

// MetricsSink is the narrow surface storage backends report through. It
// exists so backends and internal/buffering don't import Prometheus
// directly, and so tests can substitute a no-op implementation.
type MetricsSink interface {
	RecordOperation(backend, operation string, duration time.Duration, size int64, err error)
	SetActiveConnections(backend string, count int)
}

// NopMetrics discards everything. Backends built without a MetricsSink
// passed in fall back to this.
type NopMetrics struct{}

func (NopMetrics) RecordOperation(string, string, time.Duration, int64, error) {}
func (NopMetrics) SetActiveConnections(string, int)                           {}

var _ MetricsSink = NopMetrics{}

// PrometheusMetrics is the production MetricsSink, a deliberately smaller
// cousin of the teacher's metrics collector: it keeps the operation
// counter/histogram/error-counter shape and drops the cache-specific
// gauges, since caching is out of scope here.
type PrometheusMetrics struct {
	registry          *prometheus.Registry
	operationCounter  *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	operationSize     *prometheus.HistogramVec
	errorCounter      *prometheus.CounterVec
	activeConnections *prometheus.GaugeVec
}

// NewPrometheusMetrics creates a MetricsSink and registers its collectors
// with a fresh registry scoped to namespace (e.g. "helpers").
func NewPrometheusMetrics(namespace string) *PrometheusMetrics {
	registry := prometheus.NewRegistry()

	m := &PrometheusMetrics{
		registry: registry,
		operationCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Storage operations by backend, operation and status.",
		}, []string{"backend", "operation", "status"}),
		operationDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Storage operation latency in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend", "operation"}),
		operationSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_size_bytes",
			Help:      "Bytes transferred per storage operation.",
			Buckets:   prometheus.ExponentialBuckets(1024, 4, 10),
		}, []string{"backend", "operation"}),
		errorCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_total",
			Help:      "Storage operation errors by backend, operation and kind.",
		}, []string{"backend", "operation", "kind"}),
		activeConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_connections",
			Help:      "Open connections held by a backend's connection pool.",
		}, []string{"backend"}),
	}

	registry.MustRegister(
		m.operationCounter,
		m.operationDuration,
		m.operationSize,
		m.errorCounter,
		m.activeConnections,
	)

	return m
}

func (m *PrometheusMetrics) RecordOperation(backend, operation string, duration time.Duration, size int64, err error) {
	status := "success"
	if err != nil {
		status = "error"
	}

	m.operationCounter.WithLabelValues(backend, operation, status).Inc()
	m.operationDuration.WithLabelValues(backend, operation).Observe(duration.Seconds())
	if size > 0 {
		m.operationSize.WithLabelValues(backend, operation).Observe(float64(size))
	}
	if err != nil {
		m.errorCounter.WithLabelValues(backend, operation, string(errors.KindOf(err))).Inc()
	}
}

func (m *PrometheusMetrics) SetActiveConnections(backend string, count int) {
	m.activeConnections.WithLabelValues(backend).Set(float64(count))
}

// Handler returns the HTTP handler serving this sink's registry in
// Prometheus exposition format, for mounting under a path like /metrics.
func (m *PrometheusMetrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
