package sink

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/harun/valiqor/pkg/value"
)

// Record types written to a stream
const (
	RecordMetadata = "metadata"
	RecordSpan     = "span"
	RecordSummary  = "summary"
)

// Envelope keys owned by the sink
const (
	KeyRecordType = "record_type"
	KeyRunID      = "run_id"
	KeyTimestamp  = "timestamp"
)

// TimestampLayout is the UTC microsecond layout used for every record
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

const fileStampLayout = "20060102_150405"

var (
	// ErrInvalidRunID is returned when a run ID is empty or not usable in a file name
	ErrInvalidRunID = errors.New("invalid run id")
	// ErrRunAlreadyOpen is returned when Open is called twice for one run
	ErrRunAlreadyOpen = errors.New("run already open")
	// ErrRunNotOpen is returned when writing to a run that was never opened or is closed
	ErrRunNotOpen = errors.New("run not open")
	// ErrNoOpenRun is returned when Write omits the run ID and no run is open
	ErrNoOpenRun = errors.New("no open run")
	// ErrAmbiguousRun is returned when Write omits the run ID and several runs are open
	ErrAmbiguousRun = errors.New("run id required: several runs are open")
)

// Sink is a durable, append-only, per-run record stream
type Sink interface {
	// Open starts a stream for runID, writes its metadata record and
	// returns the stream location.
	Open(ctx context.Context, runID string, metadata *value.Map) (string, error)
	// Write appends one record. An empty runID selects the only open run.
	Write(ctx context.Context, runID string, record *value.Map) error
	// CloseRun releases runID, or every open run when runID is empty.
	CloseRun(runID string) error
	// Close releases every run still open.
	Close() error
}

// DefaultBaseDir returns the directory used when no base dir is configured
func DefaultBaseDir() string {
	return filepath.Join(os.TempDir(), "valiqor")
}

// FormatTimestamp renders t in TimestampLayout
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// FileName returns the stream file name for runID opened at t
func FileName(runID string, t time.Time) string {
	return fmt.Sprintf("trace_%s_%s.jsonl", runID, t.UTC().Format(fileStampLayout))
}

// ValidateRunID checks that runID is non-empty and safe to embed in a file name
func ValidateRunID(runID string) error {
	if runID == "" {
		return fmt.Errorf("%w: empty", ErrInvalidRunID)
	}
	if strings.Contains(runID, "..") {
		return fmt.Errorf("%w: cannot contain '..'", ErrInvalidRunID)
	}
	if strings.ContainsAny(runID, "/\\") {
		return fmt.Errorf("%w: cannot contain path separators", ErrInvalidRunID)
	}
	if strings.Contains(runID, "\x00") {
		return fmt.Errorf("%w: cannot contain null bytes", ErrInvalidRunID)
	}
	return nil
}

// metadataRecord builds the first line of a stream. Envelope keys come
// first and cannot be overridden by caller metadata.
func metadataRecord(runID string, now time.Time, metadata *value.Map) *value.Map {
	rec := value.NewMap()
	rec.Set(KeyRecordType, value.String(RecordMetadata))
	rec.Set(KeyRunID, value.String(runID))
	rec.Set(KeyTimestamp, value.String(FormatTimestamp(now)))
	metadata.Range(func(k string, v value.Value) bool {
		if !rec.Has(k) {
			rec.Set(k, v)
		}
		return true
	})
	return rec
}

// encodeLine renders record as one newline-terminated JSON line, adding a
// timestamp when the caller omitted one. record is not modified.
func encodeLine(record *value.Map, now time.Time) ([]byte, error) {
	if !record.Has(KeyTimestamp) {
		record = record.Clone()
		record.Set(KeyTimestamp, value.String(FormatTimestamp(now)))
	}
	data, err := record.MarshalJSON()
	if err != nil {
		return nil, fmt.Errorf("failed to encode record: %w", err)
	}
	return append(data, '\n'), nil
}

// resolveRun picks the target of a write that did not name a run
func resolveRun(open []string) (string, error) {
	switch len(open) {
	case 0:
		return "", ErrNoOpenRun
	case 1:
		return open[0], nil
	default:
		return "", fmt.Errorf("%w (%d)", ErrAmbiguousRun, len(open))
	}
}

func recordType(record *value.Map) string {
	if t := record.GetString(KeyRecordType); t != "" {
		return t
	}
	return "unknown"
}
