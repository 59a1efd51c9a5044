package sink

import (
	"context"
	"fmt"
	"sync"

	"github.com/harun/valiqor/pkg/value"
	"github.com/zoobzio/clockz"
)

var _ Sink = (*MemorySink)(nil)

// MemorySink keeps encoded records in memory. It honors the same contract
// as FileSink and is meant for tests and embedders that ship records
// elsewhere themselves.
type MemorySink struct {
	clock clockz.Clock

	mu       sync.Mutex
	runs     map[string]*memoryRun
	open     []string
	openErr  error
	writeErr error
}

type memoryRun struct {
	lines [][]byte
	open  bool
}

// NewMemorySink creates an empty MemorySink
func NewMemorySink() *MemorySink {
	return NewMemorySinkWithClock(clockz.RealClock)
}

// NewMemorySinkWithClock creates an empty MemorySink stamping records with clock
func NewMemorySinkWithClock(clock clockz.Clock) *MemorySink {
	return &MemorySink{
		clock: clock,
		runs:  make(map[string]*memoryRun),
	}
}

// FailOpen makes subsequent Open calls return err. nil clears it.
func (s *MemorySink) FailOpen(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.openErr = err
}

// FailWrites makes subsequent Write calls return err. nil clears it.
func (s *MemorySink) FailWrites(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.writeErr = err
}

// Open registers runID and stores its metadata record
func (s *MemorySink) Open(_ context.Context, runID string, metadata *value.Map) (string, error) {
	if err := ValidateRunID(runID); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.openErr != nil {
		return "", s.openErr
	}
	if run, ok := s.runs[runID]; ok && run.open {
		return "", fmt.Errorf("%w: %s", ErrRunAlreadyOpen, runID)
	}

	line, err := encodeLine(metadataRecord(runID, s.clock.Now(), metadata), s.clock.Now())
	if err != nil {
		return "", err
	}

	s.runs[runID] = &memoryRun{lines: [][]byte{line}, open: true}
	s.open = append(s.open, runID)
	return "memory://" + runID, nil
}

// Write appends record to the stream of runID
func (s *MemorySink) Write(_ context.Context, runID string, record *value.Map) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if runID == "" {
		resolved, err := resolveRun(s.open)
		if err != nil {
			return err
		}
		runID = resolved
	}

	run, ok := s.runs[runID]
	if !ok || !run.open {
		return fmt.Errorf("%w: %s", ErrRunNotOpen, runID)
	}
	if s.writeErr != nil {
		return s.writeErr
	}

	line, err := encodeLine(record, s.clock.Now())
	if err != nil {
		return err
	}
	run.lines = append(run.lines, line)
	return nil
}

// CloseRun closes runID, or every open run when runID is empty
func (s *MemorySink) CloseRun(runID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.open[:0]
	for _, id := range s.open {
		if runID == "" || id == runID {
			s.runs[id].open = false
			continue
		}
		kept = append(kept, id)
	}
	s.open = kept
	return nil
}

// Close closes every open run
func (s *MemorySink) Close() error {
	return s.CloseRun("")
}

// OpenRuns returns the IDs of all open runs in the order they were opened
func (s *MemorySink) OpenRuns() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.open...)
}

// Lines returns the encoded lines of runID, without trailing newlines
func (s *MemorySink) Lines(runID string) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[runID]
	if !ok {
		return nil
	}
	out := make([]string, len(run.lines))
	for i, line := range run.lines {
		out[i] = string(line[:len(line)-1])
	}
	return out
}

// Records returns the decoded records of runID
func (s *MemorySink) Records(runID string) ([]*value.Map, error) {
	lines := s.Lines(runID)
	out := make([]*value.Map, 0, len(lines))
	for i, line := range lines {
		rec, err := value.ParseObject([]byte(line))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", i+1, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
