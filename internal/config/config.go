package config

import (
	"encoding/json"
	"errors"

	"github.com/harun/valiqor/pkg/redact"
	"github.com/harun/valiqor/pkg/sink"
)

// Config represents the valiqor configuration
type Config struct {
	// Directory trace files are written to
	BaseDir string `json:"base_dir" mapstructure:"base_dir"`

	// Environment label recorded in every run's metadata
	Env string `json:"env" mapstructure:"env"`

	// Sync flushes each record to stable storage before returning
	Sync bool `json:"sync" mapstructure:"sync"`

	// Redaction
	Redaction RedactionConfig `json:"redaction" mapstructure:"redaction"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Retention
	Retention RetentionConfig `json:"retention" mapstructure:"retention"`

	// Index
	Index IndexConfig `json:"index" mapstructure:"index"`

	// Metrics
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Scanner
	Scanner ScannerConfig `json:"scanner" mapstructure:"scanner"`

	// Data directory for the index and logs
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// RedactionConfig extends the built-in redaction rules
type RedactionConfig struct {
	MaxDepth int      `json:"max_depth" mapstructure:"max_depth"`
	Patterns []string `json:"patterns" mapstructure:"patterns"`
	Keys     []string `json:"keys" mapstructure:"keys"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// RetentionConfig controls pruning of old trace files
type RetentionConfig struct {
	MaxAgeDays         int    `json:"max_age_days" mapstructure:"max_age_days"` // 0 keeps files forever
	Compress           bool   `json:"compress" mapstructure:"compress"`
	CompressAfterHours int    `json:"compress_after_hours" mapstructure:"compress_after_hours"`
	Schedule           string `json:"schedule" mapstructure:"schedule"` // cron expression
}

// IndexConfig holds the SQLite index location
type IndexConfig struct {
	DBPath string `json:"db_path" mapstructure:"db_path"`
}

// MetricsConfig toggles prometheus instrumentation
type MetricsConfig struct {
	Enabled bool `json:"enabled" mapstructure:"enabled"`
}

// ScannerConfig tunes repository scans
type ScannerConfig struct {
	Extensions []string `json:"extensions" mapstructure:"extensions"`
	MaxFiles   int      `json:"max_files" mapstructure:"max_files"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		BaseDir: sink.DefaultBaseDir(),
		Env:     "dev",
		Sync:    true,
		Redaction: RedactionConfig{
			MaxDepth: redact.DefaultMaxDepth,
			Patterns: []string{},
			Keys:     []string{},
		},
		Logging: LoggingConfig{
			Level:     "warn",
			Pretty:    true,
			MaxSize:   10,
			MaxAge:    7,
			Compress:  true,
			Redaction: true,
		},
		Retention: RetentionConfig{
			MaxAgeDays:         30,
			Compress:           true,
			CompressAfterHours: 24,
			Schedule:           "@daily",
		},
		Metrics: MetricsConfig{
			Enabled: false,
		},
		Scanner: ScannerConfig{
			Extensions: []string{},
			MaxFiles:   1000,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}

// Redactor builds the redactor described by the redaction section
func (c *Config) Redactor() (*redact.Redactor, error) {
	return redact.New(
		redact.WithMaxDepth(c.Redaction.MaxDepth),
		redact.WithPatterns(c.Redaction.Patterns...),
		redact.WithSensitiveKeys(c.Redaction.Keys...),
	)
}
