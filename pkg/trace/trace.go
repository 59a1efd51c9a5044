package trace

import (
	"errors"
	"fmt"
	"sync"

	"github.com/harun/valiqor/internal/metrics"
	"github.com/harun/valiqor/pkg/redact"
	"github.com/harun/valiqor/pkg/sink"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
)

// DefaultEnv is the environment label used when none is configured
const DefaultEnv = "dev"

const tracerName = "valiqor.trace"

var (
	// ErrInvalidApp is returned by New when the application name is empty
	ErrInvalidApp = errors.New("app name is required")
	// ErrNoActiveSession is returned when recording outside a session
	ErrNoActiveSession = errors.New("no active session")
	// ErrSessionActive is returned by Begin while another session is active
	ErrSessionActive = errors.New("session already active")
	// ErrReservedField is returned when a span field shadows an envelope key
	ErrReservedField = errors.New("reserved span field")
)

// Trace is the session engine for one application
type Trace struct {
	app      string
	env      string
	baseDir  string
	sink     sink.Sink
	ownsSink bool
	redactor *redact.Redactor
	clock    clockz.Clock
	logger   zerolog.Logger
	metrics  *metrics.Metrics

	mu     sync.Mutex
	active *Session
	spans  []Span
}

// Option configures a Trace
type Option func(*Trace)

// WithEnv sets the environment label
func WithEnv(env string) Option {
	return func(t *Trace) {
		t.env = env
	}
}

// WithSink sets the sink receiving records. The caller keeps ownership.
func WithSink(s sink.Sink) Option {
	return func(t *Trace) {
		t.sink = s
	}
}

// WithBaseDir sets the directory of the default file sink. It is ignored
// when WithSink is given.
func WithBaseDir(dir string) Option {
	return func(t *Trace) {
		t.baseDir = dir
	}
}

// WithRedactor sets the redactor applied to span fields and metadata
func WithRedactor(r *redact.Redactor) Option {
	return func(t *Trace) {
		t.redactor = r
	}
}

// WithClock sets the clock used for timestamps and durations
func WithClock(clock clockz.Clock) Option {
	return func(t *Trace) {
		t.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(t *Trace) {
		t.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) Option {
	return func(t *Trace) {
		t.metrics = m
	}
}

// New creates a Trace for app. Without WithSink a FileSink is created
// under the configured base dir, or sink.DefaultBaseDir.
func New(app string, opts ...Option) (*Trace, error) {
	if app == "" {
		return nil, ErrInvalidApp
	}

	t := &Trace{
		app:      app,
		env:      DefaultEnv,
		redactor: redact.Default(),
		clock:    clockz.RealClock,
		logger:   log.Logger,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.env == "" {
		t.env = DefaultEnv
	}

	if t.sink == nil {
		fs, err := sink.NewFileSink(
			sink.WithBaseDir(t.baseDir),
			sink.WithClock(t.clock),
			sink.WithLogger(t.logger),
			sink.WithMetrics(t.metrics),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create file sink: %w", err)
		}
		t.sink = fs
		t.ownsSink = true
	}

	return t, nil
}

// App returns the application name
func (t *Trace) App() string { return t.app }

// Env returns the environment label
func (t *Trace) Env() string { return t.env }

// Active returns the active session, or nil when idle
func (t *Trace) Active() *Session {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

// Spans returns a copy of the spans recorded in the active session
func (t *Trace) Spans() []Span {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]Span(nil), t.spans...)
}

// Close closes the sink if New created it. A session still active is not
// ended; its stream is released without a summary.
func (t *Trace) Close() error {
	if !t.ownsSink {
		return nil
	}
	return t.sink.Close()
}
