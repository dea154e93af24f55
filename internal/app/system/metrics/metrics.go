// Package metrics exposes Prometheus instrumentation for engine operations,
// blob cleanup and the count reconciler.
//
// A nil *Metrics is valid and records nothing, so engines built in tests can
// skip it.
package metrics

import (
	"net/http"
	"time"

	"github.com/dalemusser/strataconnect/internal/app/system/apperr"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strataconnect"

// Metrics holds the collectors registered for one process.
type Metrics struct {
	reg        *prometheus.Registry
	ops        *prometheus.CounterVec
	latency    *prometheus.HistogramVec
	blobErrors prometheus.Counter
	reconciled prometheus.Counter
}

// New builds a Metrics backed by its own registry, with the Go runtime and
// process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		ops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Engine operations by name and outcome.",
		}, []string{"operation", "outcome"}),
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Engine operation latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		blobErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blob_cleanup_failures_total",
			Help:      "Attachment blobs that could not be released after commit.",
		}),
		reconciled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connection_count_repairs_total",
			Help:      "User connection counters corrected by the reconciler.",
		}),
	}
	reg.MustRegister(
		m.ops, m.latency, m.blobErrors, m.reconciled,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Outcome classifies err for the outcome label.
func Outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if k := apperr.KindOf(err); k != "" {
		return string(k)
	}
	return "error"
}

// Observe records one call of op that started at start and ended with err.
//
//	defer func(start time.Time) { e.Metrics.Observe("connections.request", start, err) }(time.Now())
func (m *Metrics) Observe(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	m.ops.WithLabelValues(op, Outcome(err)).Inc()
	m.latency.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// BlobCleanupFailed counts one blob that failed to delete.
func (m *Metrics) BlobCleanupFailed() {
	if m == nil {
		return
	}
	m.blobErrors.Inc()
}

// Reconciled counts n repaired counters.
func (m *Metrics) Reconciled(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.reconciled.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Registry exposes the underlying registry for tests.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }
