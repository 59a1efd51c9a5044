// Package index catalogs trace files in a SQLite database so runs and spans
// can be queried without rescanning every file.
//
// The files stay the source of truth; the index can be dropped and rebuilt
// with IndexDir at any time.
package index

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/trace"
	"github.com/harun/valiqor/pkg/tracefile"
	"github.com/harun/valiqor/pkg/value"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ErrNotFound is returned when a run is not in the index
var ErrNotFound = errors.New("run not indexed")

// Run is one indexed trace file
type Run struct {
	RunID      string
	Path       string
	App        string
	Env        string
	StartedAt  string
	DurationMs float64
	SpanCount  int
	Complete   bool
}

// Span is one indexed span record
type Span struct {
	SpanID    string
	RunID     string
	Name      string
	Timestamp string
	// Fields holds the caller fields without the envelope keys
	Fields *value.Map
}

// Index is a SQLite catalog of trace runs
type Index struct {
	db     *sql.DB
	logger zerolog.Logger
}

// Option configures an Index
type Option func(*Index)

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(ix *Index) {
		ix.logger = logger
	}
}

// Open opens or creates the index database at dbPath
func Open(dbPath string, opts ...Option) (*Index, error) {
	if dbPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode so readers are not blocked by an indexing pass
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	ix := &Index{db: db, logger: log.Logger}
	for _, opt := range opts {
		opt(ix)
	}

	if err := ix.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ix.logger.Debug().Str("db", dbPath).Msg("Trace index opened")
	return ix, nil
}

func (ix *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			path TEXT NOT NULL,
			app TEXT NOT NULL,
			env TEXT NOT NULL,
			started_at TEXT NOT NULL,
			duration_ms REAL NOT NULL DEFAULT 0,
			span_count INTEGER NOT NULL DEFAULT 0,
			complete INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);

		CREATE TABLE IF NOT EXISTS spans (
			span_id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			name TEXT NOT NULL,
			timestamp TEXT NOT NULL,
			fields_json TEXT NOT NULL,
			FOREIGN KEY (run_id) REFERENCES runs(run_id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_spans_run ON spans(run_id, seq);
		CREATE INDEX IF NOT EXISTS idx_spans_name ON spans(name);
	`
	_, err := ix.db.Exec(schema)
	return err
}

// Close closes the database
func (ix *Index) Close() error {
	return ix.db.Close()
}

// IndexStream stores s, replacing any earlier entry for the same run
func (ix *Index) IndexStream(ctx context.Context, s *tracefile.Stream) error {
	runID := s.RunID()
	if runID == "" {
		return fmt.Errorf("%s: stream has no run id", s.Path)
	}

	run := Run{
		RunID:     runID,
		Path:      s.Path,
		App:       s.Metadata.GetString("app"),
		Env:       s.Metadata.GetString("env"),
		StartedAt: s.Metadata.GetString(sink.KeyTimestamp),
		SpanCount: len(s.Spans),
		Complete:  s.Complete,
	}
	if s.Summary != nil {
		if v, ok := s.Summary.Get("duration_ms"); ok {
			run.DurationMs, _ = v.AsFloat()
		}
	}

	tx, err := ix.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM spans WHERE run_id = ?", runID); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM runs WHERE run_id = ?", runID); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO runs (run_id, path, app, env, started_at, duration_ms, span_count, complete)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Path, run.App, run.Env, run.StartedAt, run.DurationMs, run.SpanCount, run.Complete,
	)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}

	for i, rec := range s.Spans {
		fields := spanFields(rec)
		data, err := fields.MarshalJSON()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			"INSERT INTO spans (span_id, run_id, seq, name, timestamp, fields_json) VALUES (?, ?, ?, ?, ?, ?)",
			rec.GetString(trace.KeySpanID), runID, i, rec.GetString(trace.KeyName), rec.GetString(sink.KeyTimestamp), string(data),
		)
		if err != nil {
			return fmt.Errorf("failed to insert span: %w", err)
		}
	}

	return tx.Commit()
}

func spanFields(rec *value.Map) *value.Map {
	fields := rec.Clone()
	for _, k := range []string{sink.KeyRecordType, trace.KeySpanID, sink.KeyRunID, trace.KeyName, sink.KeyTimestamp} {
		fields.Delete(k)
	}
	return fields
}

// IndexFile reads and indexes the trace file at path
func (ix *Index) IndexFile(ctx context.Context, path string) error {
	s, err := tracefile.Read(path)
	if err != nil {
		return err
	}
	return ix.IndexStream(ctx, s)
}

// IndexDir indexes every trace file in dir and returns how many were
// stored. Unreadable files are logged and skipped.
func (ix *Index) IndexDir(ctx context.Context, dir string) (int, error) {
	entries, err := tracefile.List(dir)
	if err != nil {
		return 0, err
	}

	indexed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		if err := ix.IndexFile(ctx, e.Path); err != nil {
			ix.logger.Warn().Err(err).Str("path", e.Path).Msg("Skipping trace file")
			continue
		}
		indexed++
	}

	ix.logger.Info().Int("indexed", indexed).Int("found", len(entries)).Str("dir", dir).Msg("Trace directory indexed")
	return indexed, nil
}

const runColumns = "run_id, path, app, env, started_at, duration_ms, span_count, complete"

// ListRuns returns the most recently started runs, newest first. A
// non-positive limit returns every run.
func (ix *Index) ListRuns(ctx context.Context, limit int) ([]Run, error) {
	query := "SELECT " + runColumns + " FROM runs ORDER BY started_at DESC, run_id"
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// GetRun returns one indexed run
func (ix *Index) GetRun(ctx context.Context, runID string) (*Run, error) {
	row := ix.db.QueryRowContext(ctx, "SELECT "+runColumns+" FROM runs WHERE run_id = ?", runID)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	if err != nil {
		return nil, err
	}
	return &run, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (Run, error) {
	var run Run
	err := row.Scan(&run.RunID, &run.Path, &run.App, &run.Env, &run.StartedAt,
		&run.DurationMs, &run.SpanCount, &run.Complete)
	return run, err
}

// SpansByName returns every span called name across runs, oldest first
func (ix *Index) SpansByName(ctx context.Context, name string) ([]Span, error) {
	return ix.querySpans(ctx,
		"SELECT span_id, run_id, name, timestamp, fields_json FROM spans WHERE name = ? ORDER BY timestamp, run_id, seq",
		name)
}

// SpansForRun returns the spans of runID in write order
func (ix *Index) SpansForRun(ctx context.Context, runID string) ([]Span, error) {
	return ix.querySpans(ctx,
		"SELECT span_id, run_id, name, timestamp, fields_json FROM spans WHERE run_id = ? ORDER BY seq",
		runID)
}

func (ix *Index) querySpans(ctx context.Context, query string, args ...any) ([]Span, error) {
	rows, err := ix.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var spans []Span
	for rows.Next() {
		var sp Span
		var fieldsJSON string
		if err := rows.Scan(&sp.SpanID, &sp.RunID, &sp.Name, &sp.Timestamp, &fieldsJSON); err != nil {
			return nil, err
		}
		fields, err := value.ParseObject([]byte(fieldsJSON))
		if err != nil {
			return nil, fmt.Errorf("span %s: %w", sp.SpanID, err)
		}
		sp.Fields = fields
		spans = append(spans, sp)
	}
	return spans, rows.Err()
}
