package metrics

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNewMetrics(t *testing.T) {
	m := NewMetrics()

	if m == nil {
		t.Fatal("NewMetrics returned nil")
	}

	if m.registry == nil {
		t.Error("Registry is nil")
	}

	// Verify sink metrics
	if m.RecordsWrittenTotal == nil {
		t.Error("RecordsWrittenTotal is nil")
	}
	if m.SinkWriteDuration == nil {
		t.Error("SinkWriteDuration is nil")
	}
	if m.SinkErrorsTotal == nil {
		t.Error("SinkErrorsTotal is nil")
	}
	if m.RunsOpen == nil {
		t.Error("RunsOpen is nil")
	}

	// Verify session metrics
	if m.SessionsTotal == nil {
		t.Error("SessionsTotal is nil")
	}
	if m.SpansTotal == nil {
		t.Error("SpansTotal is nil")
	}
	if m.RedactionsTotal == nil {
		t.Error("RedactionsTotal is nil")
	}
}

func TestWriteText(t *testing.T) {
	m := NewMetrics()

	// Record some sample metrics so they appear in output
	m.RecordWrite("span", time.Millisecond)
	m.RecordSinkError("write")
	m.RecordSession("ok")

	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText failed: %v", err)
	}

	body := buf.String()
	if !strings.Contains(body, "# TYPE ") {
		t.Error("Expected TYPE comments in text output")
	}

	expectedMetrics := []string{
		"records_written_total",
		"sink_write_duration_seconds",
		"sink_errors_total",
		"runs_open",
		"sessions_total",
		"spans_total",
		"redactions_total",
	}

	for _, metric := range expectedMetrics {
		if !strings.Contains(body, metric) {
			t.Errorf("Metrics output missing: %s", metric)
		}
	}
}

func TestWriteTextNil(t *testing.T) {
	var m *Metrics
	var buf bytes.Buffer
	if err := m.WriteText(&buf); err != nil {
		t.Fatalf("WriteText on nil metrics failed: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("Expected no output, got %q", buf.String())
	}
}

func TestMetricsRegistry(t *testing.T) {
	m := NewMetrics()

	m.RecordWrite("metadata", time.Millisecond)
	m.RecordSinkError("open")
	m.RecordSession("error")

	metricFamilies, err := m.Registry().Gather()
	if err != nil {
		t.Fatalf("Failed to gather metrics: %v", err)
	}

	expectedCount := 7
	if len(metricFamilies) != expectedCount {
		t.Errorf("Expected %d metrics, got %d", expectedCount, len(metricFamilies))
	}
}

func TestRecordingHelpers(t *testing.T) {
	m := NewMetrics()

	t.Run("record writes by type", func(t *testing.T) {
		m.RecordWrite("span", time.Millisecond)
		m.RecordWrite("span", time.Millisecond)
		m.RecordWrite("summary", time.Millisecond)

		if got := testutil.ToFloat64(m.RecordsWrittenTotal.WithLabelValues("span")); got != 2 {
			t.Errorf("Expected 2 span writes, got %v", got)
		}
		if got := testutil.ToFloat64(m.RecordsWrittenTotal.WithLabelValues("summary")); got != 1 {
			t.Errorf("Expected 1 summary write, got %v", got)
		}
	})

	t.Run("open runs gauge", func(t *testing.T) {
		m.RunOpened()
		m.RunOpened()
		m.RunClosed()

		if got := testutil.ToFloat64(m.RunsOpen); got != 1 {
			t.Errorf("Expected 1 open run, got %v", got)
		}
	})

	t.Run("spans and redactions", func(t *testing.T) {
		m.RecordSpan(2)
		m.RecordSpan(0)
		m.RecordRedactions(3)

		if got := testutil.ToFloat64(m.SpansTotal); got != 2 {
			t.Errorf("Expected 2 spans, got %v", got)
		}
		if got := testutil.ToFloat64(m.RedactionsTotal); got != 5 {
			t.Errorf("Expected 5 redactions, got %v", got)
		}
	})
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics

	m.RecordWrite("span", time.Millisecond)
	m.RecordSinkError("write")
	m.RunOpened()
	m.RunClosed()
	m.RecordSession("ok")
	m.RecordSpan(1)
	m.RecordRedactions(1)
}
