package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
	"github.com/tidwall/jsonc"
)

const (
	configDirName  = ".valiqor"
	configFileName = "valiqor.json"
	envPrefix      = "VALIQOR"
)

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if present, then applies VALIQOR_*
// environment overrides, e.g. VALIQOR_BASE_DIR or VALIQOR_LOGGING_LEVEL.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, DefaultConfig())

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		switch {
		case err == nil:
			// comments and trailing commas are allowed in the config file
			if err := v.ReadConfig(bytes.NewReader(jsonc.ToJSON(data))); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		case !os.IsNotExist(err):
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := resolvePaths(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setDefaults registers every key so AutomaticEnv can override it
func setDefaults(v *viper.Viper, cfg *Config) {
	v.SetDefault("base_dir", cfg.BaseDir)
	v.SetDefault("env", cfg.Env)
	v.SetDefault("sync", cfg.Sync)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("redaction.max_depth", cfg.Redaction.MaxDepth)
	v.SetDefault("redaction.patterns", cfg.Redaction.Patterns)
	v.SetDefault("redaction.keys", cfg.Redaction.Keys)
	v.SetDefault("logging.level", cfg.Logging.Level)
	v.SetDefault("logging.file", cfg.Logging.File)
	v.SetDefault("logging.pretty", cfg.Logging.Pretty)
	v.SetDefault("logging.max_size", cfg.Logging.MaxSize)
	v.SetDefault("logging.max_age", cfg.Logging.MaxAge)
	v.SetDefault("logging.compress", cfg.Logging.Compress)
	v.SetDefault("logging.redaction", cfg.Logging.Redaction)
	v.SetDefault("retention.max_age_days", cfg.Retention.MaxAgeDays)
	v.SetDefault("retention.compress", cfg.Retention.Compress)
	v.SetDefault("retention.compress_after_hours", cfg.Retention.CompressAfterHours)
	v.SetDefault("retention.schedule", cfg.Retention.Schedule)
	v.SetDefault("index.db_path", cfg.Index.DBPath)
	v.SetDefault("metrics.enabled", cfg.Metrics.Enabled)
	v.SetDefault("scanner.extensions", cfg.Scanner.Extensions)
	v.SetDefault("scanner.max_files", cfg.Scanner.MaxFiles)
}

func resolvePaths(cfg *Config) error {
	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, configDirName)
	}

	if cfg.Index.DBPath == "" {
		cfg.Index.DBPath = filepath.Join(cfg.DataDir, "index.db")
	}
	return nil
}

// Save saves the configuration to file
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("base_dir", cfg.BaseDir)
	v.Set("env", cfg.Env)
	v.Set("sync", cfg.Sync)
	v.Set("data_dir", cfg.DataDir)
	v.Set("redaction", cfg.Redaction)
	v.Set("logging", cfg.Logging)
	v.Set("retention", cfg.Retention)
	v.Set("index", cfg.Index)
	v.Set("metrics", cfg.Metrics)
	v.Set("scanner", cfg.Scanner)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, configDirName, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
