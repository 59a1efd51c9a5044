package config

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/harun/valiqor/pkg/redact"
	"github.com/harun/valiqor/pkg/retention"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateBaseDir checks that dir is usable as a trace directory
func (v *Validator) ValidateBaseDir(dir string) error {
	if strings.TrimSpace(dir) == "" {
		return fmt.Errorf("base_dir cannot be empty")
	}
	if strings.ContainsRune(dir, 0) {
		return fmt.Errorf("base_dir contains a NUL byte")
	}
	return nil
}

// ValidateEnv checks an environment label. It ends up in file content
// only, but must still fit on one line.
func (v *Validator) ValidateEnv(env string) error {
	if env == "" {
		return nil // DefaultEnv is used
	}
	if strings.ContainsAny(env, "\r\n") {
		return fmt.Errorf("env must be a single line")
	}
	return nil
}

// ValidateRedactionPattern checks that pattern compiles and cannot match
// the redaction marker, which would break idempotence.
func (v *Validator) ValidateRedactionPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
	}
	if re.MatchString(redact.Marker) {
		return fmt.Errorf("redaction pattern %q matches the marker %s", pattern, redact.Marker)
	}
	return nil
}

// ValidateMaxDepth validates the redaction depth limit
func (v *Validator) ValidateMaxDepth(depth int) error {
	if depth < 0 {
		return fmt.Errorf("redaction max_depth must be >= 0, got %d", depth)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule validates a retention cron expression
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return nil // scheduling disabled
	}
	if err := retention.ValidateSchedule(spec); err != nil {
		return fmt.Errorf("invalid retention schedule: %w", err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidateBaseDir(cfg.BaseDir); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateEnv(cfg.Env); err != nil {
		errors = append(errors, err)
	}

	// Validate redaction
	if err := v.ValidateMaxDepth(cfg.Redaction.MaxDepth); err != nil {
		errors = append(errors, err)
	}
	for _, p := range cfg.Redaction.Patterns {
		if err := v.ValidateRedactionPattern(p); err != nil {
			errors = append(errors, err)
		}
	}
	for i, k := range cfg.Redaction.Keys {
		if strings.TrimSpace(k) == "" {
			errors = append(errors, fmt.Errorf("redaction key %d is empty", i))
		}
	}

	// Validate logging
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if cfg.Logging.MaxSize < 0 {
		errors = append(errors, fmt.Errorf("logging.max_size must be >= 0"))
	}
	if cfg.Logging.MaxAge < 0 {
		errors = append(errors, fmt.Errorf("logging.max_age must be >= 0"))
	}

	// Validate retention
	if cfg.Retention.MaxAgeDays < 0 {
		errors = append(errors, fmt.Errorf("retention.max_age_days must be >= 0"))
	}
	if cfg.Retention.CompressAfterHours < 0 {
		errors = append(errors, fmt.Errorf("retention.compress_after_hours must be >= 0"))
	}
	if err := v.ValidateSchedule(cfg.Retention.Schedule); err != nil {
		errors = append(errors, err)
	}

	if strings.HasSuffix(cfg.Index.DBPath, string(filepath.Separator)) {
		errors = append(errors, fmt.Errorf("index.db_path %q is a directory", cfg.Index.DBPath))
	}

	if cfg.Scanner.MaxFiles < 0 {
		errors = append(errors, fmt.Errorf("scanner.max_files must be >= 0"))
	}

	return errors
}
