package trace

import (
	"fmt"
	"time"

	"github.com/harun/valiqor/internal/tracing"
	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/value"
)

// Span record keys owned by the engine
const (
	KeySpanID = "span_id"
	KeyName   = "name"
)

var reservedSpanKeys = map[string]struct{}{
	sink.KeyRecordType: {},
	KeySpanID:          {},
	sink.KeyRunID:      {},
	KeyName:            {},
	sink.KeyTimestamp:  {},
}

// Field is one caller-supplied span or metadata entry
type Field struct {
	Key   string
	Value any
}

// F builds a Field
func F(key string, v any) Field {
	return Field{Key: key, Value: v}
}

// Span is a recorded event as written to the sink
type Span struct {
	ID        string
	RunID     string
	Name      string
	Timestamp time.Time
	// Fields holds the sanitized fields, never the raw input.
	Fields *value.Map
}

func fieldsToMap(fields []Field) *value.Map {
	m := value.NewMap()
	for _, f := range fields {
		m.Set(f.Key, value.From(f.Value))
	}
	return m
}

// AddSpan records a span in the active session. Fields keep their order.
// The call returns once the record is on the sink.
func (t *Trace) AddSpan(name string, fields ...Field) error {
	return t.AddSpanValues(name, fieldsToMap(fields))
}

// AddSpanMap records a span from a map. Keys are written in sorted order.
func (t *Trace) AddSpanMap(name string, fields map[string]any) error {
	return t.AddSpanValues(name, value.FromMap(fields))
}

// AddSpanValues records a span from already structured fields
func (t *Trace) AddSpanValues(name string, fields *value.Map) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.addSpanLocked(name, fields)
}

func (t *Trace) addSpanLocked(name string, fields *value.Map) error {
	sess := t.active
	if sess == nil {
		return ErrNoActiveSession
	}
	for _, k := range fields.Keys() {
		if _, ok := reservedSpanKeys[k]; ok {
			return fmt.Errorf("%w: %s", ErrReservedField, k)
		}
	}

	clean, redactions := t.redactor.SanitizeMapStats(fields)

	spanID, err := tracing.NewSpanID()
	if err != nil {
		return fmt.Errorf("failed to generate span id: %w", err)
	}
	now := t.clock.Now()

	rec := value.NewMap()
	rec.Set(sink.KeyRecordType, value.String(sink.RecordSpan))
	rec.Set(KeySpanID, value.String(spanID))
	rec.Set(sink.KeyRunID, value.String(sess.runID))
	rec.Set(KeyName, value.String(name))
	rec.Set(sink.KeyTimestamp, value.String(sink.FormatTimestamp(now)))
	rec.Merge(clean)

	ctx := tracing.WithSpanID(sess.ctx, spanID)
	if err := t.sink.Write(ctx, sess.runID, rec); err != nil {
		return fmt.Errorf("failed to record span %q: %w", name, err)
	}

	t.spans = append(t.spans, Span{
		ID:        spanID,
		RunID:     sess.runID,
		Name:      name,
		Timestamp: now,
		Fields:    clean,
	})
	t.metrics.RecordSpan(redactions)
	return nil
}
