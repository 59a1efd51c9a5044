package tracefile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FilePrefix and FileSuffix delimit trace file names
const (
	FilePrefix = "trace_"
	FileSuffix = ".jsonl"
)

// Entry describes a trace file found by List
type Entry struct {
	Path    string
	RunID   string
	Size    int64
	ModTime time.Time
	// Compressed is true for gzip archives produced by retention
	Compressed bool
}

// IsTraceFile reports whether name looks like a trace file, plain or gzipped
func IsTraceFile(name string) bool {
	name = strings.TrimSuffix(name, ".gz")
	return strings.HasPrefix(name, FilePrefix) && strings.HasSuffix(name, FileSuffix)
}

// RunIDFromName extracts the run ID from trace_<run_id>_<YYYYMMDD>_<HHMMSS>.jsonl
func RunIDFromName(name string) string {
	name = strings.TrimSuffix(filepath.Base(name), ".gz")
	if !IsTraceFile(name) {
		return ""
	}
	stem := strings.TrimSuffix(strings.TrimPrefix(name, FilePrefix), FileSuffix)
	// drop the two trailing stamp parts
	for i := 0; i < 2; i++ {
		idx := strings.LastIndex(stem, "_")
		if idx < 0 {
			return ""
		}
		stem = stem[:idx]
	}
	return stem
}

// List returns the trace files in dir, oldest first
func List(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read trace directory: %w", err)
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() || !IsTraceFile(de.Name()) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			// removed since ReadDir
			continue
		}
		entries = append(entries, Entry{
			Path:       filepath.Join(dir, de.Name()),
			RunID:      RunIDFromName(de.Name()),
			Size:       info.Size(),
			ModTime:    info.ModTime(),
			Compressed: strings.HasSuffix(de.Name(), ".gz"),
		})
	}

	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].ModTime.Equal(entries[j].ModTime) {
			return entries[i].Path < entries[j].Path
		}
		return entries[i].ModTime.Before(entries[j].ModTime)
	})
	return entries, nil
}
