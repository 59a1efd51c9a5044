package metrics

import (
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
)

// Metrics holds all Prometheus metrics for the recorder.
// A nil *Metrics is valid; every recording method is then a no-op.
type Metrics struct {
	registry *prometheus.Registry

	// Sink metrics
	RecordsWrittenTotal *prometheus.CounterVec
	SinkWriteDuration   prometheus.Histogram
	SinkErrorsTotal     *prometheus.CounterVec
	RunsOpen            prometheus.Gauge

	// Session metrics
	SessionsTotal   *prometheus.CounterVec
	SpansTotal      prometheus.Counter
	RedactionsTotal prometheus.Counter
}

// NewMetrics creates and registers all metrics
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,

		// Sink metrics
		RecordsWrittenTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "records_written_total",
				Help: "Total number of trace records written by record type",
			},
			[]string{"record_type"},
		),
		SinkWriteDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sink_write_duration_seconds",
				Help:    "Duration of a single record write including flush",
				Buckets: prometheus.ExponentialBuckets(0.00005, 4, 8),
			},
		),
		SinkErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sink_errors_total",
				Help: "Total number of sink failures by operation",
			},
			[]string{"op"},
		),
		RunsOpen: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "runs_open",
				Help: "Number of runs currently open on sinks",
			},
		),

		// Session metrics
		SessionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sessions_total",
				Help: "Total number of finished sessions by status",
			},
			[]string{"status"},
		),
		SpansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "spans_total",
				Help: "Total number of spans recorded",
			},
		),
		RedactionsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "redactions_total",
				Help: "Total number of values replaced by the redactor",
			},
		),
	}

	// Register all metrics
	m.registerMetrics()

	return m
}

// registerMetrics registers all metrics with the registry
func (m *Metrics) registerMetrics() {
	// Sink metrics
	m.registry.MustRegister(m.RecordsWrittenTotal)
	m.registry.MustRegister(m.SinkWriteDuration)
	m.registry.MustRegister(m.SinkErrorsTotal)
	m.registry.MustRegister(m.RunsOpen)

	// Session metrics
	m.registry.MustRegister(m.SessionsTotal)
	m.registry.MustRegister(m.SpansTotal)
	m.registry.MustRegister(m.RedactionsTotal)
}

// RecordWrite records one successful record write
func (m *Metrics) RecordWrite(recordType string, d time.Duration) {
	if m == nil {
		return
	}
	m.RecordsWrittenTotal.WithLabelValues(recordType).Inc()
	m.SinkWriteDuration.Observe(d.Seconds())
}

// RecordSinkError counts a failed sink operation
func (m *Metrics) RecordSinkError(op string) {
	if m == nil {
		return
	}
	m.SinkErrorsTotal.WithLabelValues(op).Inc()
}

// RunOpened increments the open run gauge
func (m *Metrics) RunOpened() {
	if m == nil {
		return
	}
	m.RunsOpen.Inc()
}

// RunClosed decrements the open run gauge
func (m *Metrics) RunClosed() {
	if m == nil {
		return
	}
	m.RunsOpen.Dec()
}

// RecordSession counts a finished session. status is "ok" or "error".
func (m *Metrics) RecordSession(status string) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(status).Inc()
}

// RecordSpan counts a recorded span and the redactions applied to it
func (m *Metrics) RecordSpan(redactions int) {
	if m == nil {
		return
	}
	m.SpansTotal.Inc()
	if redactions > 0 {
		m.RedactionsTotal.Add(float64(redactions))
	}
}

// RecordRedactions counts redactions applied outside a span, e.g. metadata
func (m *Metrics) RecordRedactions(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RedactionsTotal.Add(float64(n))
}

// WriteText writes every registered metric in the prometheus text format
func (m *Metrics) WriteText(w io.Writer) error {
	if m == nil {
		return nil
	}
	families, err := m.registry.Gather()
	if err != nil {
		return err
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return err
		}
	}
	return nil
}

// Registry returns the Prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
