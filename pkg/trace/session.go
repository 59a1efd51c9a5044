package trace

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/harun/valiqor/internal/tracing"
	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/value"
	otelcodes "go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

// Metadata keys owned by the engine or the sink
const (
	KeyApp        = "app"
	KeyEnv        = "env"
	KeyDurationMs = "duration_ms"
	KeySpanCount  = "span_count"
)

// SessionErrorSpan is the name of the span recorded when a session body fails
const SessionErrorSpan = "session.error"

var reservedMetadataKeys = map[string]struct{}{
	sink.KeyRecordType: {},
	sink.KeyRunID:      {},
	sink.KeyTimestamp:  {},
	KeyApp:             {},
	KeyEnv:             {},
}

// Session is the handle of one active tracing run
type Session struct {
	t     *Trace
	runID string
	path  string
	start time.Time
	ctx   context.Context
	span  oteltrace.Span
	ended bool
}

// RunID returns the run identifier
func (s *Session) RunID() string { return s.runID }

// Path returns the stream location reported by the sink
func (s *Session) Path() string { return s.path }

// Context returns a context carrying the run identity
func (s *Session) Context() context.Context { return s.ctx }

// Begin starts a session. Caller metadata is sanitized and written after
// the app and env identity fields, which it cannot override.
func (t *Trace) Begin(ctx context.Context, metadata ...Field) (*Session, error) {
	return t.BeginValues(ctx, fieldsToMap(metadata))
}

// BeginValues is Begin with already structured metadata
func (t *Trace) BeginValues(ctx context.Context, metadata *value.Map) (*Session, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.active != nil {
		return nil, fmt.Errorf("%w: %s", ErrSessionActive, t.active.runID)
	}

	runID := tracing.NewRunID()
	start := t.clock.Now()

	ctx = tracing.NewContext(ctx, &tracing.TraceContext{RunID: runID, App: t.app, Env: t.env})
	ctx, span := tracing.StartSpan(ctx, tracerName, "trace.session")
	logger := tracing.LoggerFromContext(ctx, t.logger)

	clean, redactions := t.redactor.SanitizeMapStats(metadata)
	meta := value.NewMap()
	meta.Set(KeyApp, value.String(t.app))
	meta.Set(KeyEnv, value.String(t.env))
	clean.Range(func(k string, v value.Value) bool {
		if _, reserved := reservedMetadataKeys[k]; !reserved {
			meta.Set(k, v)
		}
		return true
	})

	path, err := t.sink.Open(ctx, runID, meta)
	if err != nil {
		tracing.RecordError(span, err)
		span.End()
		return nil, fmt.Errorf("failed to open trace: %w", err)
	}
	t.metrics.RecordRedactions(redactions)

	sess := &Session{
		t:     t,
		runID: runID,
		path:  path,
		start: start,
		ctx:   ctx,
		span:  span,
	}
	t.active = sess
	t.spans = nil

	logger.Info().Str("path", path).Msg("Trace started")
	return sess, nil
}

// End finishes the session. When bodyErr is non-nil a session.error span
// is recorded first. The summary is written and the stream closed on every
// path, and the Trace returns to idle even if teardown fails.
//
// The result is bodyErr itself when teardown succeeds, otherwise bodyErr
// joined with the teardown errors. Calling End again is a no-op that
// returns bodyErr.
func (s *Session) End(bodyErr error) error {
	return s.end(bodyErr, errorType(bodyErr))
}

func (s *Session) end(bodyErr error, kind string) error {
	t := s.t
	t.mu.Lock()
	defer t.mu.Unlock()

	if s.ended || t.active != s {
		return bodyErr
	}
	s.ended = true

	var errs []error
	if bodyErr != nil {
		fields := value.NewMap()
		fields.Set("error", value.String(bodyErr.Error()))
		fields.Set("error_type", value.String(kind))
		if err := t.addSpanLocked(SessionErrorSpan, fields); err != nil {
			errs = append(errs, err)
		}
	}

	elapsed := t.clock.Since(s.start)
	durationMs := roundMs(elapsed)
	spanCount := len(t.spans)

	summary := value.NewMap()
	summary.Set(sink.KeyRecordType, value.String(sink.RecordSummary))
	summary.Set(sink.KeyRunID, value.String(s.runID))
	summary.Set(KeyDurationMs, value.Float(durationMs))
	summary.Set(KeySpanCount, value.Int(int64(spanCount)))
	summary.Set(sink.KeyTimestamp, value.String(sink.FormatTimestamp(t.clock.Now())))

	if err := t.sink.Write(s.ctx, s.runID, summary); err != nil {
		errs = append(errs, fmt.Errorf("failed to write summary: %w", err))
	}
	if err := t.sink.CloseRun(s.runID); err != nil {
		errs = append(errs, fmt.Errorf("failed to close trace: %w", err))
	}

	t.active = nil
	t.spans = nil

	status := "ok"
	if bodyErr != nil || len(errs) > 0 {
		status = "error"
	}
	t.metrics.RecordSession(status)

	teardownErr := errors.Join(errs...)
	if teardownErr != nil {
		tracing.RecordError(s.span, teardownErr)
	} else if bodyErr != nil {
		s.span.SetStatus(otelcodes.Error, bodyErr.Error())
	}
	s.span.End()

	completedLogger := tracing.LoggerFromContext(s.ctx, t.logger)
	completedLogger.Info().
		Str("path", s.path).
		Int("span_count", spanCount).
		Float64("duration_ms", durationMs).
		Msg("Trace completed")

	if teardownErr == nil {
		return bodyErr
	}
	return errors.Join(bodyErr, teardownErr)
}

// Run executes fn inside a session. The session ends on every path; a
// panic in fn is recorded as a session.error span and then re-raised.
func (t *Trace) Run(ctx context.Context, fn func(ctx context.Context) error, metadata ...Field) error {
	sess, err := t.Begin(ctx, metadata...)
	if err != nil {
		return err
	}

	finished := false
	defer func() {
		if finished {
			return
		}
		r := recover()
		if r == nil {
			// runtime.Goexit, e.g. t.FailNow in a test body
			_ = sess.End(nil)
			return
		}
		_ = sess.end(&PanicError{Value: r}, panicErrorType)
		panic(r)
	}()

	bodyErr := fn(sess.Context())
	finished = true
	return sess.End(bodyErr)
}

const panicErrorType = "panic"

// PanicError carries a recovered panic value
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprint(e.Value)
}

// errorType classifies err by its dynamic type, e.g. "fs.PathError"
func errorType(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimPrefix(fmt.Sprintf("%T", err), "*")
}

func roundMs(d time.Duration) float64 {
	ms := float64(d) / float64(time.Millisecond)
	return math.Round(ms*100) / 100
}
