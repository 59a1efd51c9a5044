package sink

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/harun/valiqor/internal/metrics"
	"github.com/harun/valiqor/pkg/value"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func newTestSink(t *testing.T, opts ...FileOption) *FileSink {
	t.Helper()
	opts = append([]FileOption{WithBaseDir(t.TempDir())}, opts...)
	s, err := NewFileSink(opts...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func readLines(t *testing.T, path string) []*value.Map {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var out []*value.Map
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		rec, err := value.ParseObject(scanner.Bytes())
		require.NoError(t, err, "line %q", scanner.Text())
		out = append(out, rec)
	}
	require.NoError(t, scanner.Err())
	return out
}

func spanRecord(name string) *value.Map {
	m := value.NewMap()
	m.Set(KeyRecordType, value.String(RecordSpan))
	m.Set("name", value.String(name))
	return m
}

func TestNewFileSinkCreatesBaseDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "traces")

	s, err := NewFileSink(WithBaseDir(dir))
	require.NoError(t, err)
	defer s.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
	assert.Equal(t, dir, s.BaseDir())
}

func TestNewFileSinkBaseDirIsFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, []byte("x"), 0o644))

	_, err := NewFileSink(WithBaseDir(filepath.Join(file, "sub")))
	assert.Error(t, err)
}

func TestOpenWritesMetadata(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2024, 5, 6, 7, 8, 9, 123456000, time.UTC))
	s := newTestSink(t, WithClock(clock))

	meta := value.NewMap()
	meta.Set("app", value.String("demo-app"))
	meta.Set("run_id", value.String("spoofed"))
	meta.Set("scenario", value.String("demo"))

	path, err := s.Open(context.Background(), "run_1", meta)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(s.BaseDir(), "trace_run_1_20240506_070809.jsonl"), path)

	lines := readLines(t, path)
	require.Len(t, lines, 1)
	assert.Equal(t, []string{"record_type", "run_id", "timestamp", "app", "scenario"}, lines[0].Keys())
	assert.Equal(t, "metadata", lines[0].GetString("record_type"))
	assert.Equal(t, "run_1", lines[0].GetString("run_id"))
	assert.Equal(t, "2024-05-06T07:08:09.123456Z", lines[0].GetString("timestamp"))
}

func TestOpenErrors(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	tests := []struct {
		name  string
		runID string
		want  error
	}{
		{"empty", "", ErrInvalidRunID},
		{"traversal", "../escape", ErrInvalidRunID},
		{"separator", "a/b", ErrInvalidRunID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Open(ctx, tt.runID, nil)
			assert.ErrorIs(t, err, tt.want)
		})
	}

	t.Run("already open", func(t *testing.T) {
		_, err := s.Open(ctx, "run_dup", nil)
		require.NoError(t, err)
		_, err = s.Open(ctx, "run_dup", nil)
		assert.ErrorIs(t, err, ErrRunAlreadyOpen)
	})
}

func TestWriteAppendsLines(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	path, err := s.Open(ctx, "run_1", nil)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Write(ctx, "run_1", spanRecord(fmt.Sprintf("step.%d", i))))

		// visible to a reader as soon as Write returns
		lines := readLines(t, path)
		require.Len(t, lines, i+2)
		assert.Equal(t, fmt.Sprintf("step.%d", i), lines[i+1].GetString("name"))
	}
}

func TestWriteInjectsTimestamp(t *testing.T) {
	clock := clockz.NewFakeClockAt(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestSink(t, WithClock(clock))
	ctx := context.Background()

	path, err := s.Open(ctx, "run_1", nil)
	require.NoError(t, err)

	clock.Advance(1500 * time.Millisecond)
	rec := spanRecord("no.ts")
	require.NoError(t, s.Write(ctx, "run_1", rec))

	stamped := spanRecord("has.ts")
	stamped.Set(KeyTimestamp, value.String("2000-01-01T00:00:00.000000Z"))
	require.NoError(t, s.Write(ctx, "run_1", stamped))

	lines := readLines(t, path)
	require.Len(t, lines, 3)
	assert.Equal(t, "2024-01-01T00:00:01.500000Z", lines[1].GetString("timestamp"))
	assert.Equal(t, "2000-01-01T00:00:00.000000Z", lines[2].GetString("timestamp"))
	assert.False(t, rec.Has(KeyTimestamp), "caller record must not be modified")
}

func TestWriteRunResolution(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	err := s.Write(ctx, "", spanRecord("x"))
	assert.ErrorIs(t, err, ErrNoOpenRun)

	path, err := s.Open(ctx, "run_a", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "", spanRecord("implicit")))
	assert.Len(t, readLines(t, path), 2)

	_, err = s.Open(ctx, "run_b", nil)
	require.NoError(t, err)
	err = s.Write(ctx, "", spanRecord("x"))
	assert.ErrorIs(t, err, ErrAmbiguousRun)

	err = s.Write(ctx, "run_missing", spanRecord("x"))
	assert.ErrorIs(t, err, ErrRunNotOpen)
}

func TestCloseRun(t *testing.T) {
	s := newTestSink(t)
	ctx := context.Background()

	_, err := s.Open(ctx, "run_a", nil)
	require.NoError(t, err)
	_, err = s.Open(ctx, "run_b", nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"run_a", "run_b"}, s.OpenRuns())

	require.NoError(t, s.CloseRun("run_a"))
	assert.Equal(t, []string{"run_b"}, s.OpenRuns())

	err = s.Write(ctx, "run_a", spanRecord("late"))
	assert.ErrorIs(t, err, ErrRunNotOpen)

	// closing twice or closing an unknown run is a no-op
	assert.NoError(t, s.CloseRun("run_a"))
	assert.NoError(t, s.CloseRun("never"))

	_, ok := s.Path("run_b")
	assert.True(t, ok)

	require.NoError(t, s.CloseRun(""))
	assert.Empty(t, s.OpenRuns())
	_, ok = s.Path("run_b")
	assert.False(t, ok)
}

func TestCloseReleasesOpenRuns(t *testing.T) {
	s, err := NewFileSink(WithBaseDir(t.TempDir()))
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, err := s.Open(context.Background(), fmt.Sprintf("run_%d", i), nil)
		require.NoError(t, err)
	}

	require.NoError(t, s.Close())
	assert.Empty(t, s.OpenRuns())
}

func TestConcurrentRuns(t *testing.T) {
	s := newTestSink(t, WithSync(false))
	ctx := context.Background()

	const runs, writes = 4, 50
	paths := make([]string, runs)
	for i := range paths {
		p, err := s.Open(ctx, fmt.Sprintf("run_%d", i), nil)
		require.NoError(t, err)
		paths[i] = p
	}

	var wg sync.WaitGroup
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < writes; j++ {
				assert.NoError(t, s.Write(ctx, fmt.Sprintf("run_%d", i), spanRecord(strings.Repeat("x", j))))
			}
		}(i)
	}
	wg.Wait()

	for i, p := range paths {
		assert.Contains(t, filepath.Base(p), fmt.Sprintf("trace_run_%d_", i))
		lines := readLines(t, p)
		require.Len(t, lines, writes+1)
		for _, l := range lines[1:] {
			assert.Equal(t, "span", l.GetString("record_type"))
		}
	}
}

func TestFileSinkMetrics(t *testing.T) {
	m := metrics.NewMetrics()
	s := newTestSink(t, WithMetrics(m))
	ctx := context.Background()

	_, err := s.Open(ctx, "run_1", nil)
	require.NoError(t, err)
	require.NoError(t, s.Write(ctx, "run_1", spanRecord("a")))
	assert.Error(t, s.Write(ctx, "run_2", spanRecord("b")))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsWrittenTotal.WithLabelValues("metadata")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RecordsWrittenTotal.WithLabelValues("span")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SinkErrorsTotal.WithLabelValues("write")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.RunsOpen))

	require.NoError(t, s.CloseRun("run_1"))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.RunsOpen))
}
