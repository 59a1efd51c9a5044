package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/harun/valiqor/internal/metrics"
	"github.com/harun/valiqor/internal/tracing"
	"github.com/harun/valiqor/pkg/value"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
	"go.opentelemetry.io/otel/attribute"
)

const tracerName = "valiqor.sink"

var _ Sink = (*FileSink)(nil)

// FileSink writes each run to its own JSONL file under a base directory
type FileSink struct {
	baseDir string
	sync    bool
	clock   clockz.Clock
	logger  zerolog.Logger
	metrics *metrics.Metrics

	mu     sync.RWMutex
	runs   map[string]*fileRun
	opened uint64
}

type fileRun struct {
	mu   sync.Mutex
	file *os.File
	path string
	seq  uint64
}

// FileOption configures a FileSink
type FileOption func(*FileSink)

// WithBaseDir sets the directory that receives trace files
func WithBaseDir(dir string) FileOption {
	return func(s *FileSink) {
		s.baseDir = dir
	}
}

// WithSync controls whether every write is followed by fsync. Records are
// always handed to the OS with one unbuffered write; disabling sync only
// gives up durability across power loss.
func WithSync(enabled bool) FileOption {
	return func(s *FileSink) {
		s.sync = enabled
	}
}

// WithClock sets the clock used for open and write timestamps
func WithClock(clock clockz.Clock) FileOption {
	return func(s *FileSink) {
		s.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) FileOption {
	return func(s *FileSink) {
		s.logger = logger
	}
}

// WithMetrics enables Prometheus instrumentation
func WithMetrics(m *metrics.Metrics) FileOption {
	return func(s *FileSink) {
		s.metrics = m
	}
}

// NewFileSink creates a FileSink, creating the base directory if needed
func NewFileSink(opts ...FileOption) (*FileSink, error) {
	s := &FileSink{
		sync:   true,
		clock:  clockz.RealClock,
		logger: log.Logger,
		runs:   make(map[string]*fileRun),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.baseDir == "" {
		s.baseDir = DefaultBaseDir()
	}

	if err := os.MkdirAll(s.baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	s.logger.Debug().Str("dir", s.baseDir).Msg("File sink initialized")
	return s, nil
}

// BaseDir returns the directory receiving trace files
func (s *FileSink) BaseDir() string {
	return s.baseDir
}

// Open creates the trace file for runID and writes its metadata record
func (s *FileSink) Open(ctx context.Context, runID string, metadata *value.Map) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "sink.open")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, s.logger)

	if err := ValidateRunID(runID); err != nil {
		return "", tracing.RecordError(span, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[runID]; exists {
		return "", tracing.RecordError(span, fmt.Errorf("%w: %s", ErrRunAlreadyOpen, runID))
	}

	now := s.clock.Now()
	path := filepath.Join(s.baseDir, FileName(runID, now))
	span.SetAttributes(attribute.String("path", path))

	file, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		s.metrics.RecordSinkError("open")
		return "", tracing.RecordError(span, fmt.Errorf("failed to create trace file: %w", err))
	}

	run := &fileRun{file: file, path: path}
	if err := s.writeLine(run, metadataRecord(runID, now, metadata), now); err != nil {
		file.Close()
		s.metrics.RecordSinkError("open")
		return "", tracing.RecordError(span, err)
	}

	s.opened++
	run.seq = s.opened
	s.runs[runID] = run
	s.metrics.RunOpened()

	logger.Debug().Str("path", path).Msg("Trace file opened")
	return path, nil
}

// Write appends record to the stream of runID
func (s *FileSink) Write(ctx context.Context, runID string, record *value.Map) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runID, run, err := s.lookup(runID)
	if err != nil {
		s.metrics.RecordSinkError("write")
		return err
	}

	ctx = tracing.WithRunID(ctx, runID)
	ctx, span := tracing.StartSpan(ctx, tracerName, "sink.write",
		attribute.String("record_type", recordType(record)),
	)
	defer span.End()

	run.mu.Lock()
	defer run.mu.Unlock()

	// closed between lookup and lock
	if run.file == nil {
		s.metrics.RecordSinkError("write")
		return tracing.RecordError(span, fmt.Errorf("%w: %s", ErrRunNotOpen, runID))
	}

	if err := s.writeLine(run, record, s.clock.Now()); err != nil {
		s.metrics.RecordSinkError("write")
		return tracing.RecordError(span, err)
	}

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().
		Str("record_type", recordType(record)).
		Msg("Record written")
	return nil
}

// writeLine encodes and appends one line. Callers hold run.mu or own run
// exclusively.
func (s *FileSink) writeLine(run *fileRun, record *value.Map, now time.Time) error {
	start := s.clock.Now()

	line, err := encodeLine(record, now)
	if err != nil {
		return err
	}
	if _, err := run.file.Write(line); err != nil {
		return fmt.Errorf("failed to write record: %w", err)
	}
	if s.sync {
		if err := run.file.Sync(); err != nil {
			return fmt.Errorf("failed to sync trace file: %w", err)
		}
	}

	s.metrics.RecordWrite(recordType(record), s.clock.Since(start))
	return nil
}

func (s *FileSink) lookup(runID string) (string, *fileRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if runID == "" {
		resolved, err := resolveRun(s.openRunsLocked())
		if err != nil {
			return "", nil, err
		}
		runID = resolved
	}

	run, ok := s.runs[runID]
	if !ok {
		return "", nil, fmt.Errorf("%w: %s", ErrRunNotOpen, runID)
	}
	return runID, run, nil
}

// CloseRun closes runID, or every open run when runID is empty. Unknown
// runs are ignored.
func (s *FileSink) CloseRun(runID string) error {
	s.mu.Lock()
	var targets []string
	if runID == "" {
		targets = s.openRunsLocked()
	} else if _, ok := s.runs[runID]; ok {
		targets = []string{runID}
	}

	closing := make([]*fileRun, 0, len(targets))
	for _, id := range targets {
		closing = append(closing, s.runs[id])
		delete(s.runs, id)
	}
	s.mu.Unlock()

	var errs []error
	for i, run := range closing {
		run.mu.Lock()
		err := run.file.Close()
		run.file = nil
		run.mu.Unlock()

		s.metrics.RunClosed()
		if err != nil {
			s.metrics.RecordSinkError("close")
			errs = append(errs, fmt.Errorf("failed to close trace file %s: %w", run.path, err))
			continue
		}
		s.logger.Debug().Str("run_id", targets[i]).Str("path", run.path).Msg("Trace file closed")
	}
	return errors.Join(errs...)
}

// Close closes every run still open
func (s *FileSink) Close() error {
	return s.CloseRun("")
}

// Path returns the trace file of an open run
func (s *FileSink) Path(runID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[runID]
	if !ok {
		return "", false
	}
	return run.path, true
}

// OpenRuns returns the IDs of all open runs in the order they were opened
func (s *FileSink) OpenRuns() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.openRunsLocked()
}

func (s *FileSink) openRunsLocked() []string {
	ids := make([]string, 0, len(s.runs))
	for id := range s.runs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return s.runs[ids[i]].seq < s.runs[ids[j]].seq })
	return ids
}
