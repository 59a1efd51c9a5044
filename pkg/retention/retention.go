// Package retention removes and compresses old trace files.
//
// Only finished traces (ending in a summary record) are compressed, so a
// run that is still being written is never touched before it expires.
package retention

import (
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/harun/valiqor/pkg/tracefile"
	"github.com/klauspost/compress/gzip"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
)

// DefaultCompressAfter is the age after which finished traces are compressed
const DefaultCompressAfter = 24 * time.Hour

// ErrAlreadyScheduled is returned by Schedule when a schedule is running
var ErrAlreadyScheduled = errors.New("pruner already scheduled")

// Pruner applies a retention policy to a trace directory
type Pruner struct {
	dir           string
	maxAge        time.Duration
	compress      bool
	compressAfter time.Duration
	clock         clockz.Clock
	logger        zerolog.Logger

	mu   sync.Mutex
	cron *cron.Cron
}

// Result lists what one Prune pass changed
type Result struct {
	Removed    []string
	Compressed []string
}

// Option configures a Pruner
type Option func(*Pruner)

// WithMaxAge removes traces older than d. Zero keeps traces forever.
func WithMaxAge(d time.Duration) Option {
	return func(p *Pruner) {
		p.maxAge = d
	}
}

// WithCompress gzips finished traces older than after
func WithCompress(enabled bool, after time.Duration) Option {
	return func(p *Pruner) {
		p.compress = enabled
		if after > 0 {
			p.compressAfter = after
		}
	}
}

// WithClock sets the clock used to compute file ages
func WithClock(clock clockz.Clock) Option {
	return func(p *Pruner) {
		p.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(p *Pruner) {
		p.logger = logger
	}
}

// New creates a Pruner for dir
func New(dir string, opts ...Option) *Pruner {
	p := &Pruner{
		dir:           dir,
		compressAfter: DefaultCompressAfter,
		clock:         clockz.RealClock,
		logger:        log.Logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With().Str("component", "retention").Logger()
	return p
}

// Prune runs one retention pass. Failures on individual files are
// collected and returned together after the pass completes.
func (p *Pruner) Prune() (*Result, error) {
	entries, err := tracefile.List(p.dir)
	if err != nil {
		return nil, err
	}

	now := p.clock.Now()
	res := &Result{}
	var errs []error

	for _, e := range entries {
		age := now.Sub(e.ModTime)

		if p.maxAge > 0 && age > p.maxAge {
			if err := os.Remove(e.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, fmt.Errorf("failed to remove %s: %w", e.Path, err))
				continue
			}
			res.Removed = append(res.Removed, e.Path)
			continue
		}

		if !p.compress || e.Compressed || age <= p.compressAfter {
			continue
		}

		stream, err := tracefile.Read(e.Path)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if stream.Summary == nil {
			// unfinished, possibly still open
			continue
		}
		if err := compressFile(e.Path, e.ModTime); err != nil {
			errs = append(errs, fmt.Errorf("failed to compress %s: %w", e.Path, err))
			continue
		}
		res.Compressed = append(res.Compressed, e.Path)
	}

	p.logger.Debug().
		Int("removed", len(res.Removed)).
		Int("compressed", len(res.Compressed)).
		Msg("Retention pass finished")

	return res, errors.Join(errs...)
}

// compressFile replaces path with path.gz, keeping the modification time
// so later passes age the archive from the original write.
func compressFile(path string, modTime time.Time) error {
	src, err := os.Open(path)
	if err != nil {
		return err
	}
	defer src.Close()

	gzPath := path + ".gz"
	dst, err := os.OpenFile(gzPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	gzw := gzip.NewWriter(dst)
	if _, err := io.Copy(gzw, src); err != nil {
		gzw.Close()
		dst.Close()
		os.Remove(gzPath)
		return err
	}
	if err := gzw.Close(); err != nil {
		dst.Close()
		os.Remove(gzPath)
		return err
	}
	if err := dst.Close(); err != nil {
		os.Remove(gzPath)
		return err
	}

	if err := os.Chtimes(gzPath, modTime, modTime); err != nil {
		return err
	}
	return os.Remove(path)
}

// ValidateSchedule checks a cron expression (five fields or a descriptor
// such as @daily)
func ValidateSchedule(spec string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}

// Schedule runs Prune on the cron schedule spec until Stop is called
func (p *Pruner) Schedule(spec string) error {
	if err := ValidateSchedule(spec); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cron != nil {
		return ErrAlreadyScheduled
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, p.runScheduled); err != nil {
		return fmt.Errorf("failed to schedule pruning: %w", err)
	}
	c.Start()
	p.cron = c

	p.logger.Info().Str("schedule", spec).Str("dir", p.dir).Msg("Retention scheduled")
	return nil
}

func (p *Pruner) runScheduled() {
	res, err := p.Prune()
	if err != nil {
		p.logger.Error().Err(err).Msg("Retention pass failed")
		return
	}
	if len(res.Removed) > 0 || len(res.Compressed) > 0 {
		p.logger.Info().
			Int("removed", len(res.Removed)).
			Int("compressed", len(res.Compressed)).
			Msg("Old traces pruned")
	}
}

// Stop halts the schedule and waits for a running pass to finish
func (p *Pruner) Stop() {
	p.mu.Lock()
	c := p.cron
	p.cron = nil
	p.mu.Unlock()

	if c == nil {
		return
	}
	<-c.Stop().Done()
}
