package tracefile

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/value"
)

// ErrRemoved is returned by Follow when the file disappears before its summary
var ErrRemoved = errors.New("trace file removed")

// Follow calls fn for every record of the trace at path, including records
// appended later, until the summary record has been delivered. It returns
// ctx.Err() if ctx ends first and stops at the first error from fn.
func Follow(ctx context.Context, path string, fn func(*value.Map) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open trace file: %w", err)
	}
	defer f.Close()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// watch before the first read so no append is missed
	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("failed to watch trace file: %w", err)
	}

	t := &tailer{r: bufio.NewReader(f), fn: fn}
	if done, err := t.drain(); done || err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Write) {
				if done, err := t.drain(); done || err != nil {
					return err
				}
			}
			if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
				if done, err := t.drain(); done || err != nil {
					return err
				}
				return ErrRemoved
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			return fmt.Errorf("trace watcher error: %w", err)
		}
	}
}

type tailer struct {
	r       *bufio.Reader
	fn      func(*value.Map) error
	pending []byte
	line    int
}

// drain delivers every complete line currently available. It reports done
// once the summary record has been delivered.
func (t *tailer) drain() (bool, error) {
	for {
		chunk, err := t.r.ReadBytes('\n')
		t.pending = append(t.pending, chunk...)
		if err == io.EOF {
			// keep the partial line until the rest arrives
			return false, nil
		}
		if err != nil {
			return false, fmt.Errorf("failed to read trace: %w", err)
		}

		t.line++
		line := bytes.TrimSpace(t.pending)
		t.pending = t.pending[:0]
		if len(line) == 0 {
			continue
		}

		rec, err := DecodeRecord(line)
		if err != nil {
			return false, fmt.Errorf("line %d: %w", t.line, err)
		}
		if err := t.fn(rec); err != nil {
			return false, err
		}
		if rec.GetString(sink.KeyRecordType) == sink.RecordSummary {
			return true, nil
		}
	}
}
