package telemetry

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for batch execution. A disabled
// instance accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// Batch metrics
	batchesStarted  *prometheus.CounterVec
	batchesFinished *prometheus.CounterVec
	batchDuration   *prometheus.HistogramVec
	activeBatches   prometheus.Gauge

	// Remote API metrics
	remoteCalls    *prometheus.CounterVec
	remoteDuration *prometheus.HistogramVec
	remoteErrors   *prometheus.CounterVec

	// Ledger metrics
	ledgerWritten *prometheus.CounterVec
	ledgerDeleted *prometheus.CounterVec

	policyViolations *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		batchesStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_started_total",
				Help:      "Total number of batch runs started",
			},
			[]string{"operation"},
		),
		batchesFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_finished_total",
				Help:      "Total number of batch runs finished, by final status",
			},
			[]string{"operation", "status"},
		),
		batchDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Duration of batch runs in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "status"},
		),
		activeBatches: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_batches",
				Help:      "Number of batch runs currently executing",
			},
		),

		remoteCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_calls_total",
				Help:      "Total number of calls to the remote project-management API",
			},
			[]string{"operation", "resource_type"},
		),
		remoteDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "remote_call_duration_seconds",
				Help:      "Duration of remote API calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation", "resource_type"},
		),
		remoteErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remote_errors_total",
				Help:      "Total number of failed remote API calls, by error class",
			},
			[]string{"operation", "class"},
		),

		ledgerWritten: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_rows_written_total",
				Help:      "Total number of ledger rows recorded",
			},
			[]string{"resource_type"},
		),
		ledgerDeleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ledger_rows_deleted_total",
				Help:      "Total number of ledger rows removed by cleanup",
			},
			[]string{"resource_type"},
		),

		policyViolations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "policy_violations_total",
				Help:      "Total number of template policy violations",
			},
			[]string{"policy", "severity"},
		),
	}

	registry.MustRegister(
		m.batchesStarted,
		m.batchesFinished,
		m.batchDuration,
		m.activeBatches,
		m.remoteCalls,
		m.remoteDuration,
		m.remoteErrors,
		m.ledgerWritten,
		m.ledgerDeleted,
		m.policyViolations,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return m, nil
}

// Enabled reports whether the collector records anything.
func (m *Metrics) Enabled() bool {
	return m != nil && m.registry != nil
}

// RecordBatchStarted records the start of a creation or cleanup run.
func (m *Metrics) RecordBatchStarted(operation string) {
	if !m.Enabled() {
		return
	}
	m.batchesStarted.WithLabelValues(operation).Inc()
	m.activeBatches.Inc()
}

// RecordBatchFinished records the final status of a run.
func (m *Metrics) RecordBatchFinished(operation, status string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.batchesFinished.WithLabelValues(operation, status).Inc()
	m.batchDuration.WithLabelValues(operation, status).Observe(duration.Seconds())
	m.activeBatches.Dec()
}

// RecordRemoteCall records a remote API call.
func (m *Metrics) RecordRemoteCall(operation, resourceType string, duration time.Duration) {
	if !m.Enabled() {
		return
	}
	m.remoteCalls.WithLabelValues(operation, resourceType).Inc()
	m.remoteDuration.WithLabelValues(operation, resourceType).Observe(duration.Seconds())
}

// RecordRemoteError records a failed remote API call.
func (m *Metrics) RecordRemoteError(operation, class string) {
	if !m.Enabled() {
		return
	}
	m.remoteErrors.WithLabelValues(operation, class).Inc()
}

// RecordLedgerWrite records a ledger row insert.
func (m *Metrics) RecordLedgerWrite(resourceType string) {
	if !m.Enabled() {
		return
	}
	m.ledgerWritten.WithLabelValues(resourceType).Inc()
}

// RecordLedgerDelete records a ledger row removal.
func (m *Metrics) RecordLedgerDelete(resourceType string) {
	if !m.Enabled() {
		return
	}
	m.ledgerDeleted.WithLabelValues(resourceType).Inc()
}

// RecordPolicyViolation records a template policy violation.
func (m *Metrics) RecordPolicyViolation(policy, severity string) {
	if !m.Enabled() {
		return
	}
	m.policyViolations.WithLabelValues(policy, severity).Inc()
}

// Registry returns the underlying registry, or nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures elapsed time for a metric observation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Handler returns an HTTP handler exposing the registry.
func (m *Metrics) Handler() http.Handler {
	if !m.Enabled() {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}
