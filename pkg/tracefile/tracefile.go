// Package tracefile reads and checks the JSONL streams written by the sink.
//
// A stream is complete when it starts with a metadata record, ends with a
// summary record and the summary's span_count matches the spans in
// between. A stream lacking its summary belongs to a run that was cut
// short and is reported as truncated.
package tracefile

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/value"
	"github.com/klauspost/compress/gzip"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrTruncated is returned for a stream without its summary record
	ErrTruncated = errors.New("trace stream is truncated")
	// ErrOutOfOrder is returned when records violate metadata, spans, summary order
	ErrOutOfOrder = errors.New("trace records out of order")
	// ErrCountMismatch is returned when span_count disagrees with the spans present
	ErrCountMismatch = errors.New("summary span_count does not match spans")
	// ErrRunMismatch is returned when records carry different run IDs
	ErrRunMismatch = errors.New("records belong to different runs")
)

var envelopeSchema = gojsonschema.NewStringLoader(EnvelopeSchema)

// Stream is one decoded trace file
type Stream struct {
	Path     string
	Metadata *value.Map
	Spans    []*value.Map
	Summary  *value.Map
	// Records holds every record in file order
	Records []*value.Map
	// Complete is true when Validate reports no error
	Complete bool
	// PartialLine is set when the final line was cut off mid-write
	PartialLine bool
}

// RunID returns the run identifier from the first record
func (s *Stream) RunID() string {
	if len(s.Records) == 0 {
		return ""
	}
	return s.Records[0].GetString(sink.KeyRunID)
}

// SpanCount returns the summary's span_count, or -1 without a summary
func (s *Stream) SpanCount() int64 {
	if s.Summary == nil {
		return -1
	}
	v, _ := s.Summary.Get("span_count")
	n, ok := v.AsInt()
	if !ok {
		return -1
	}
	return n
}

// Validate checks record order, run identity and the span count
func (s *Stream) Validate() error {
	if len(s.Records) == 0 {
		return fmt.Errorf("%w: no records", ErrTruncated)
	}

	runID := s.RunID()
	last := len(s.Records) - 1
	for i, rec := range s.Records {
		if id := rec.GetString(sink.KeyRunID); id != runID {
			return fmt.Errorf("%w: line %d has %q, expected %q", ErrRunMismatch, i+1, id, runID)
		}
		switch rec.GetString(sink.KeyRecordType) {
		case sink.RecordMetadata:
			if i != 0 {
				return fmt.Errorf("%w: metadata on line %d", ErrOutOfOrder, i+1)
			}
		case sink.RecordSpan:
			if i == 0 {
				return fmt.Errorf("%w: stream starts with a span", ErrOutOfOrder)
			}
		case sink.RecordSummary:
			if i == 0 {
				return fmt.Errorf("%w: stream starts with a summary", ErrOutOfOrder)
			}
			if i != last {
				return fmt.Errorf("%w: summary on line %d of %d", ErrOutOfOrder, i+1, last+1)
			}
		}
	}

	if s.Summary == nil || s.PartialLine {
		return fmt.Errorf("%w: %d records, no summary", ErrTruncated, len(s.Records))
	}
	if n := s.SpanCount(); n != int64(len(s.Spans)) {
		return fmt.Errorf("%w: summary says %d, found %d", ErrCountMismatch, n, len(s.Spans))
	}
	return nil
}

// Read decodes the trace file at path. Files ending in .gz are
// decompressed transparently.
func Read(path string) (*Stream, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return nil, fmt.Errorf("failed to open compressed trace: %w", err)
		}
		defer gz.Close()
		r = gz
	}

	s, err := Decode(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	s.Path = path
	return s, nil
}

// Decode reads a stream from r. A final line without a newline that does
// not parse is treated as a write interrupted by a crash, not as an error.
func Decode(r io.Reader) (*Stream, error) {
	s := &Stream{}
	br := bufio.NewReader(r)

	for lineNo := 1; ; lineNo++ {
		line, err := br.ReadBytes('\n')
		if err != nil && err != io.EOF {
			return nil, fmt.Errorf("failed to read trace: %w", err)
		}
		terminated := bytes.HasSuffix(line, []byte{'\n'})

		if trimmed := bytes.TrimSpace(line); len(trimmed) > 0 {
			rec, perr := DecodeRecord(trimmed)
			switch {
			case perr != nil && !terminated:
				s.PartialLine = true
			case perr != nil:
				return nil, fmt.Errorf("line %d: %w", lineNo, perr)
			default:
				s.add(rec)
			}
		}

		if err == io.EOF {
			break
		}
	}

	s.Complete = s.Validate() == nil
	return s, nil
}

func (s *Stream) add(rec *value.Map) {
	s.Records = append(s.Records, rec)
	switch rec.GetString(sink.KeyRecordType) {
	case sink.RecordMetadata:
		if s.Metadata == nil {
			s.Metadata = rec
		}
	case sink.RecordSpan:
		s.Spans = append(s.Spans, rec)
	case sink.RecordSummary:
		s.Summary = rec
	}
}

// DecodeRecord parses one line and validates its envelope
func DecodeRecord(line []byte) (*value.Map, error) {
	rec, err := value.ParseObject(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse record: %w", err)
	}
	if err := validateEnvelope(line); err != nil {
		return nil, err
	}
	return rec, nil
}

func validateEnvelope(line []byte) error {
	result, err := gojsonschema.Validate(envelopeSchema, gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			msgs = append(msgs, e.String())
		}
		return fmt.Errorf("invalid record envelope: %s", strings.Join(msgs, "; "))
	}
	return nil
}
