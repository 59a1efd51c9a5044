// Package redact sanitizes structured values before they are persisted.
//
// Invariants:
// - Sanitize never mutates its input and has no side effects.
// - A Redactor is immutable after New and safe for concurrent use.
// - Sanitize is idempotent: none of the markers matches a detection pattern.
// - Values under a sensitive key are replaced wholesale, never inspected.
//
// Usage:
//
//	clean := redact.SanitizeAny(map[string]any{"api_key": "sk-...", "q": "hi"})
//	line := redact.RedactString("mail me at a@b.io")
package redact

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/harun/valiqor/pkg/value"
)

// Marker replaces every detected secret
const Marker = "[REDACTED]"

// DefaultMaxDepth is the nesting depth below which values are replaced by
// value.MaxDepthExceeded.
const DefaultMaxDepth = 10

// maxPasses bounds the fixpoint loop in RedactString. A replacement can
// complete a match for an earlier pattern (e.g. "pwd: " followed by a
// redacted phone number), so patterns are re-applied until stable.
const maxPasses = 4

// DefaultPatterns are applied in order to every string.
var DefaultPatterns = []string{
	// API keys, including sk-ant- keys
	`(?i)(sk-|api[_-]?key|bearer\s+)[\w\-]{20,}`,
	// Bearer tokens of any length
	`Bearer\s+[a-zA-Z0-9._\-]+`,
	// Token, JWT and auth assignments
	`(?i)(token|jwt|auth)["']?\s*[:=]\s*["']?[\w\-.]{20,}`,
	// Password assignments
	`(?i)(password|passwd|pwd)["']?\s*[:=]\s*["']?\S{6,}`,
	// Generic secret assignments
	`(?i)secret["']?\s*[:=]\s*["']?[^\s"']+`,
	// AWS access keys
	`AKIA[0-9A-Z]{16}`,
	// Telegram bot tokens
	`\d{8,10}:[a-zA-Z0-9_\-]{30,}`,
	// Email addresses
	`\b[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}\b`,
	// US social security numbers
	`\b\d{3}-\d{2}-\d{4}\b`,
	// Credit card numbers
	`\b\d{4}[\s\-]?\d{4}[\s\-]?\d{4}[\s\-]?\d{4}\b`,
	// Phone numbers
	`\b(\+\d{1,3}[\s\-]?)?\(?\d{3}\)?[\s\-]?\d{3}[\s\-]?\d{4}\b`,
}

// DefaultSensitiveKeys are matched against map keys after normalization
// (lowercased, with '_', '-', '.' and spaces removed), so "API-Key",
// "api_key" and "apiKey" are all caught.
var DefaultSensitiveKeys = []string{
	"api_key", "apikey", "api-key",
	"secret", "secret_key", "secretkey",
	"password", "passwd", "pwd",
	"token", "access_token", "refresh_token", "auth_token",
	"private_key", "privatekey",
	"client_secret", "clientsecret",
	"bearer",
}

// Redactor redacts sensitive information from values and strings
type Redactor struct {
	patterns []*regexp.Regexp
	keys     map[string]struct{}
	maxDepth int
}

// Option configures a Redactor
type Option func(*Redactor) error

// WithMaxDepth sets the recursion limit
func WithMaxDepth(depth int) Option {
	return func(r *Redactor) error {
		if depth < 0 {
			return fmt.Errorf("max depth must be >= 0, got %d", depth)
		}
		r.maxDepth = depth
		return nil
	}
}

// WithPatterns appends custom detection patterns
func WithPatterns(patterns ...string) Option {
	return func(r *Redactor) error {
		for _, p := range patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", p, err)
			}
			if re.MatchString(Marker) {
				return fmt.Errorf("redaction pattern %q matches the redaction marker", p)
			}
			r.patterns = append(r.patterns, re)
		}
		return nil
	}
}

// WithSensitiveKeys adds map keys whose values are always redacted
func WithSensitiveKeys(keys ...string) Option {
	return func(r *Redactor) error {
		for _, k := range keys {
			r.keys[normalizeKey(k)] = struct{}{}
		}
		return nil
	}
}

// New creates a redactor with the default patterns and keys plus any
// options.
func New(opts ...Option) (*Redactor, error) {
	r := &Redactor{
		patterns: make([]*regexp.Regexp, 0, len(DefaultPatterns)),
		keys:     make(map[string]struct{}, len(DefaultSensitiveKeys)),
		maxDepth: DefaultMaxDepth,
	}
	for _, p := range DefaultPatterns {
		r.patterns = append(r.patterns, regexp.MustCompile(p))
	}
	for _, k := range DefaultSensitiveKeys {
		r.keys[normalizeKey(k)] = struct{}{}
	}

	for _, opt := range opts {
		if err := opt(r); err != nil {
			return nil, err
		}
	}
	return r, nil
}

var defaultRedactor = mustDefault()

func mustDefault() *Redactor {
	r, err := New()
	if err != nil {
		panic(err)
	}
	return r
}

// Default returns the shared redactor built from the default rules
func Default() *Redactor { return defaultRedactor }

// MaxDepth returns the configured recursion limit
func (r *Redactor) MaxDepth() int { return r.maxDepth }

// RedactString replaces every pattern match in s with Marker
func (r *Redactor) RedactString(s string) string {
	out, _ := r.redactString(s)
	return out
}

func (r *Redactor) redactString(s string) (string, int) {
	count := 0
	for pass := 0; pass < maxPasses; pass++ {
		before := s
		for _, pattern := range r.patterns {
			s = pattern.ReplaceAllStringFunc(s, func(string) string {
				count++
				return Marker
			})
		}
		if s == before {
			break
		}
	}
	return s, count
}

// IsSensitiveKey reports whether values under key are always redacted
func (r *Redactor) IsSensitiveKey(key string) bool {
	_, ok := r.keys[normalizeKey(key)]
	return ok
}

// Sanitize returns a sanitized copy of v
func (r *Redactor) Sanitize(v value.Value) value.Value {
	out, _ := r.SanitizeStats(v)
	return out
}

// SanitizeStats returns a sanitized copy of v and the number of
// replacements made.
func (r *Redactor) SanitizeStats(v value.Value) (value.Value, int) {
	count := 0
	out := r.sanitize(v, 0, &count)
	return out, count
}

// SanitizeAny converts x with value.From and sanitizes the result
func (r *Redactor) SanitizeAny(x any) value.Value {
	return r.Sanitize(value.From(x))
}

// SanitizeMap sanitizes m as a top-level mapping. The result is never nil.
func (r *Redactor) SanitizeMap(m *value.Map) *value.Map {
	out, _ := r.SanitizeMapStats(m)
	return out
}

// SanitizeMapStats is SanitizeMap plus the replacement count
func (r *Redactor) SanitizeMapStats(m *value.Map) (*value.Map, int) {
	if m == nil {
		return value.NewMap(), 0
	}
	// depth 0 never exceeds a non-negative maxDepth, so the result is a map
	out, n := r.SanitizeStats(value.Object(m))
	return out.AsMap(), n
}

func (r *Redactor) sanitize(v value.Value, depth int, count *int) value.Value {
	if depth > r.maxDepth {
		return value.String(value.MaxDepthExceeded)
	}

	switch v.Kind() {
	case value.KindString:
		s, _ := v.AsString()
		out, n := r.redactString(s)
		*count += n
		return value.String(out)

	case value.KindMap:
		out := value.NewMap()
		v.AsMap().Range(func(k string, item value.Value) bool {
			if r.IsSensitiveKey(k) {
				*count++
				out.Set(k, value.String(Marker))
				return true
			}
			out.Set(k, r.sanitize(item, depth+1, count))
			return true
		})
		return value.Object(out)

	case value.KindList:
		items := v.AsList()
		for i, item := range items {
			items[i] = r.sanitize(item, depth+1, count)
		}
		return value.List(items...)

	default:
		// null, bool and numbers carry nothing to redact
		return v
	}
}

// Wrap wraps an io.Writer to redact sensitive information
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{
		writer:   w,
		redactor: r,
	}
}

// redactingWriter is an io.Writer that redacts sensitive information
type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

// Write reports len(p) on success even when redaction changed the length,
// as callers such as zerolog treat a short count as an error.
func (w *redactingWriter) Write(p []byte) (int, error) {
	redacted := w.redactor.RedactString(string(p))
	if _, err := w.writer.Write([]byte(redacted)); err != nil {
		return 0, err
	}
	return len(p), nil
}

var keySeparators = strings.NewReplacer("_", "", "-", "", ".", "", " ", "")

func normalizeKey(k string) string {
	return keySeparators.Replace(strings.ToLower(k))
}

// Sanitize sanitizes v with the default redactor
func Sanitize(v value.Value) value.Value { return defaultRedactor.Sanitize(v) }

// SanitizeAny converts and sanitizes x with the default redactor
func SanitizeAny(x any) value.Value { return defaultRedactor.SanitizeAny(x) }

// RedactString redacts s with the default redactor
func RedactString(s string) string { return defaultRedactor.RedactString(s) }
