// Package scanner builds a context map of a repository: the files worth
// feeding to an AI workflow, a nested view of the tree and the files that
// look like prompts or templates.
//
// Scanning is local and read-only apart from writing the output file.
package scanner

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/value"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/zoobzio/clockz"
)

// DefaultMaxFiles caps the number of files recorded per scan
const DefaultMaxFiles = 1000

// ErrRepoNotFound is returned when the repository root does not exist
var ErrRepoNotFound = errors.New("repository not found")

// DefaultExtensions are the file extensions included in a scan
var DefaultExtensions = []string{
	".py", ".js", ".ts", ".jsx", ".tsx",
	".json", ".yaml", ".yml", ".md",
	".txt", ".toml", ".ini", ".cfg",
}

// PromptDirectories mark every file below them as a prompt
var PromptDirectories = []string{
	"prompts", "templates", "prompt_templates",
	"llm_prompts", "ai_prompts",
}

var skippedDirs = map[string]struct{}{
	"node_modules": {},
	"__pycache__":  {},
	"venv":         {},
	"env":          {},
	"dist":         {},
	"build":        {},
}

// FileInfo describes one scanned file
type FileInfo struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"size_bytes"`
	Extension string `json:"extension"`
}

// ContextMap is the result of a scan
type ContextMap struct {
	RepoPath       string     `json:"repo_path"`
	ScanTimestamp  string     `json:"scan_timestamp"`
	FileCount      int        `json:"file_count"`
	TotalSizeBytes int64      `json:"total_size_bytes"`
	Files          []FileInfo `json:"files"`
	Prompts        []FileInfo `json:"prompts"`
	// Structure nests directories as objects with file sizes at the leaves
	Structure *value.Map `json:"structure"`
}

type config struct {
	extensions map[string]struct{}
	maxFiles   int
	clock      clockz.Clock
	logger     zerolog.Logger
}

// Option configures a scan
type Option func(*config)

// WithExtensions replaces the extensions included in the scan
func WithExtensions(exts ...string) Option {
	return func(c *config) {
		c.extensions = make(map[string]struct{}, len(exts))
		for _, e := range exts {
			e = strings.ToLower(e)
			if !strings.HasPrefix(e, ".") {
				e = "." + e
			}
			c.extensions[e] = struct{}{}
		}
	}
}

// WithMaxFiles caps the number of files recorded
func WithMaxFiles(n int) Option {
	return func(c *config) {
		c.maxFiles = n
	}
}

// WithClock sets the clock used for the scan timestamp
func WithClock(clock clockz.Clock) Option {
	return func(c *config) {
		c.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(c *config) {
		c.logger = logger
	}
}

// Scan walks root and writes the resulting context map as indented JSON to
// out, creating parent directories as needed. Unreadable files are skipped.
func Scan(root, out string, opts ...Option) (*ContextMap, error) {
	cfg := &config{
		maxFiles: DefaultMaxFiles,
		clock:    clockz.RealClock,
		logger:   log.Logger,
	}
	WithExtensions(DefaultExtensions...)(cfg)
	for _, opt := range opts {
		opt(cfg)
	}

	repoPath, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve repository path: %w", err)
	}
	if _, err := os.Stat(repoPath); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrRepoNotFound, root)
		}
		return nil, fmt.Errorf("failed to stat repository: %w", err)
	}

	cm := &ContextMap{
		RepoPath: repoPath,
		Files:    []FileInfo{},
		Prompts:  []FileInfo{},
	}

	err = filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// unreadable entries are skipped, not fatal
			cfg.logger.Debug().Err(err).Str("path", path).Msg("Skipping unreadable entry")
			if d != nil && d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		if d.IsDir() {
			if path != repoPath && isSkippedDir(d.Name()) {
				return filepath.SkipDir
			}
			return nil
		}

		ext := strings.ToLower(filepath.Ext(d.Name()))
		if _, ok := cfg.extensions[ext]; !ok {
			return nil
		}
		if cm.FileCount >= cfg.maxFiles {
			return filepath.SkipAll
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return nil
		}

		fi := FileInfo{
			Path:      filepath.ToSlash(rel),
			SizeBytes: info.Size(),
			Extension: ext,
		}
		cm.Files = append(cm.Files, fi)
		if isPrompt(filepath.ToSlash(filepath.Dir(rel)), d.Name()) {
			cm.Prompts = append(cm.Prompts, fi)
		}
		cm.TotalSizeBytes += fi.SizeBytes
		cm.FileCount++
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan repository: %w", err)
	}

	cm.ScanTimestamp = sink.FormatTimestamp(cfg.clock.Now())
	cm.Structure = BuildStructure(cm.Files)

	if err := writeJSON(out, cm); err != nil {
		return nil, err
	}

	cfg.logger.Info().
		Str("repo", repoPath).
		Int("files", cm.FileCount).
		Int64("bytes", cm.TotalSizeBytes).
		Int("prompts", len(cm.Prompts)).
		Str("out", out).
		Msg("Repository scanned")

	return cm, nil
}

func isSkippedDir(name string) bool {
	if strings.HasPrefix(name, ".") {
		return true
	}
	_, ok := skippedDirs[name]
	return ok
}

// isPrompt applies the directory and file name heuristics. relDir is the
// slash separated directory of the file relative to the root.
func isPrompt(relDir, name string) bool {
	dir := strings.ToLower(relDir)
	for _, p := range PromptDirectories {
		if strings.Contains(dir, p) {
			return true
		}
	}
	lower := strings.ToLower(name)
	return strings.Contains(lower, "prompt") || strings.Contains(lower, "template")
}

// BuildStructure nests files by directory, with sizes at the leaves
func BuildStructure(files []FileInfo) *value.Map {
	root := value.NewMap()
	for _, f := range files {
		parts := strings.Split(f.Path, "/")
		current := root
		for _, part := range parts[:len(parts)-1] {
			next, ok := current.Get(part)
			if !ok || next.AsMap() == nil {
				child := value.NewMap()
				current.Set(part, value.Object(child))
				current = child
				continue
			}
			current = next.AsMap()
		}
		current.Set(parts[len(parts)-1], value.Int(f.SizeBytes))
	}
	return root
}

func writeJSON(out string, cm *ContextMap) error {
	if dir := filepath.Dir(out); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(cm); err != nil {
		return fmt.Errorf("failed to encode context map: %w", err)
	}

	if err := os.WriteFile(out, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write context map: %w", err)
	}
	return nil
}
