package tracefile

import (
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/harun/valiqor/pkg/trace"
	"github.com/harun/valiqor/pkg/value"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	metaLine    = `{"record_type":"metadata","run_id":"run_1","timestamp":"2024-01-01T00:00:00.000000Z","app":"demo","env":"dev"}`
	spanLine    = `{"record_type":"span","span_id":"span_a","run_id":"run_1","name":"llm.call","timestamp":"2024-01-01T00:00:00.100000Z","model":"gpt-4"}`
	summaryLine = `{"record_type":"summary","run_id":"run_1","duration_ms":12.5,"span_count":1,"timestamp":"2024-01-01T00:00:00.200000Z"}`
)

func writeTrace(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	content := strings.Join(lines, "\n")
	if len(lines) > 0 {
		content += "\n"
	}
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func recordSession(t *testing.T, dir string, spans int) string {
	t.Helper()
	tr, err := trace.New("demo-app", trace.WithBaseDir(dir))
	require.NoError(t, err)
	defer tr.Close()

	sess, err := tr.Begin(context.Background(), trace.F("scenario", "demo"))
	require.NoError(t, err)
	for i := 0; i < spans; i++ {
		require.NoError(t, tr.AddSpan("step", trace.F("i", i)))
	}
	require.NoError(t, sess.End(nil))
	return sess.Path()
}

func TestReadRecordedSession(t *testing.T) {
	path := recordSession(t, t.TempDir(), 3)

	s, err := Read(path)
	require.NoError(t, err)

	assert.True(t, s.Complete)
	assert.NoError(t, s.Validate())
	assert.Equal(t, path, s.Path)
	assert.Len(t, s.Records, 5)
	assert.Len(t, s.Spans, 3)
	assert.Equal(t, int64(3), s.SpanCount())
	assert.Equal(t, "demo-app", s.Metadata.GetString("app"))
	assert.Equal(t, RunIDFromName(path), s.RunID())
}

func TestValidate(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name  string
		lines []string
		want  error
	}{
		{"complete", []string{metaLine, spanLine, summaryLine}, nil},
		{"missing summary", []string{metaLine, spanLine}, ErrTruncated},
		{"empty", nil, ErrTruncated},
		{"span first", []string{spanLine, metaLine, summaryLine}, ErrOutOfOrder},
		{"summary in the middle", []string{metaLine, summaryLine, spanLine}, ErrOutOfOrder},
		{"count mismatch", []string{metaLine, spanLine, spanLine, summaryLine}, ErrCountMismatch},
		{"foreign run", []string{metaLine, strings.Replace(spanLine, "run_1", "run_2", 1), summaryLine}, ErrRunMismatch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTrace(t, dir, "trace_run_1_20240101_000000.jsonl", tt.lines...)
			s, err := Read(path)
			require.NoError(t, err)

			if tt.want == nil {
				assert.NoError(t, s.Validate())
				assert.True(t, s.Complete)
				return
			}
			assert.ErrorIs(t, s.Validate(), tt.want)
			assert.False(t, s.Complete)
		})
	}
}

func TestReadPartialLastLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace_run_1_20240101_000000.jsonl")
	content := metaLine + "\n" + spanLine + "\n" + `{"record_type":"summ`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	s, err := Read(path)
	require.NoError(t, err)
	assert.True(t, s.PartialLine)
	assert.Len(t, s.Records, 2)
	assert.ErrorIs(t, s.Validate(), ErrTruncated)
}

func TestReadRejectsBadEnvelope(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name string
		line string
	}{
		{"unknown record type", `{"record_type":"event","run_id":"run_1","timestamp":"2024-01-01T00:00:00Z"}`},
		{"span without id", `{"record_type":"span","run_id":"run_1","name":"x","timestamp":"2024-01-01T00:00:00Z"}`},
		{"bad timestamp", `{"record_type":"metadata","run_id":"run_1","timestamp":"yesterday"}`},
		{"fractional span count", `{"record_type":"summary","run_id":"run_1","duration_ms":1,"span_count":1.5,"timestamp":"2024-01-01T00:00:00Z"}`},
		{"not json", `record_type=span`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTrace(t, dir, "trace_run_1_20240101_000000.jsonl", metaLine, tt.line)
			_, err := Read(path)
			assert.Error(t, err)
		})
	}
}

func TestReadIgnoresSpanFieldShapes(t *testing.T) {
	span := `{"record_type":"span","span_id":"span_a","run_id":"run_1","name":"x","timestamp":"2024-01-01T00:00:00Z","anything":{"nested":[1,null,"s"]},"status":null}`
	path := writeTrace(t, t.TempDir(), "trace_run_1_20240101_000000.jsonl", metaLine, span, summaryLine)

	s, err := Read(path)
	require.NoError(t, err)
	assert.True(t, s.Complete)
}

func TestReadGzip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace_run_1_20240101_000000.jsonl.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = gz.Write([]byte(metaLine + "\n" + spanLine + "\n" + summaryLine + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	s, err := Read(path)
	require.NoError(t, err)
	assert.True(t, s.Complete)
}

func TestList(t *testing.T) {
	dir := t.TempDir()
	old := writeTrace(t, dir, "trace_run_old_20240101_000000.jsonl", metaLine)
	recent := writeTrace(t, dir, "trace_run_new_20240102_000000.jsonl.gz", metaLine)
	writeTrace(t, dir, "notes.txt", "x")
	require.NoError(t, os.Mkdir(filepath.Join(dir, "trace_dir.jsonl"), 0o755))

	past := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(old, past, past))

	entries, err := List(dir)
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, old, entries[0].Path)
	assert.Equal(t, "run_old", entries[0].RunID)
	assert.False(t, entries[0].Compressed)

	assert.Equal(t, recent, entries[1].Path)
	assert.Equal(t, "run_new", entries[1].RunID)
	assert.True(t, entries[1].Compressed)
}

func TestRunIDFromName(t *testing.T) {
	assert.Equal(t, "run_0123456789abcdef", RunIDFromName("/tmp/valiqor/trace_run_0123456789abcdef_20240101_120000.jsonl"))
	assert.Equal(t, "", RunIDFromName("context_map.json"))
	assert.Equal(t, "", RunIDFromName("trace_.jsonl"))
}

func TestFollow(t *testing.T) {
	dir := t.TempDir()
	tr, err := trace.New("demo-app", trace.WithBaseDir(dir))
	require.NoError(t, err)
	defer tr.Close()

	sess, err := tr.Begin(context.Background())
	require.NoError(t, err)
	require.NoError(t, tr.AddSpan("before"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	got := make(chan string, 16)
	done := make(chan error, 1)
	go func() {
		done <- Follow(ctx, sess.Path(), func(rec *value.Map) error {
			got <- rec.GetString("record_type") + ":" + rec.GetString("name")
			return nil
		})
	}()

	// the records already on disk arrive first
	assert.Equal(t, "metadata:", <-got)
	assert.Equal(t, "span:before", <-got)

	require.NoError(t, tr.AddSpan("after"))
	require.NoError(t, sess.End(nil))

	require.NoError(t, <-done)
	close(got)

	var rest []string
	for r := range got {
		rest = append(rest, r)
	}
	assert.Equal(t, []string{"span:after", "summary:"}, rest)
}

func TestFollowContextCancel(t *testing.T) {
	path := writeTrace(t, t.TempDir(), "trace_run_1_20240101_000000.jsonl", metaLine)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Follow(ctx, path, func(*value.Map) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
