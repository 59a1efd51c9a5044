package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoader(t *testing.T) {
	loader := NewLoader("/path/to/config.json")
	assert.NotNil(t, loader)
	assert.Equal(t, "/path/to/config.json", loader.configPath)
}

func TestLoaderLoad(t *testing.T) {
	t.Run("defaults when file doesn't exist", func(t *testing.T) {
		home := t.TempDir()
		t.Setenv("HOME", home)

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "nonexistent.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, "dev", cfg.Env)
		assert.Equal(t, filepath.Join(home, ".valiqor"), cfg.DataDir)
		assert.Equal(t, filepath.Join(home, ".valiqor", "index.db"), cfg.Index.DBPath)
	})

	t.Run("load config from file", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "valiqor.json")
		testConfig := `{
			"base_dir": "/var/traces",
			"env": "prod",
			"sync": false,
			"data_dir": "/var/lib/valiqor",
			"redaction": {"patterns": ["ticket-[0-9]+"], "keys": ["customer_id"]},
			"logging": {"level": "debug"},
			"retention": {"max_age_days": 7, "schedule": "0 3 * * *"}
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)

		assert.Equal(t, "/var/traces", cfg.BaseDir)
		assert.Equal(t, "prod", cfg.Env)
		assert.False(t, cfg.Sync)
		assert.Equal(t, []string{"ticket-[0-9]+"}, cfg.Redaction.Patterns)
		assert.Equal(t, []string{"customer_id"}, cfg.Redaction.Keys)
		assert.Equal(t, "debug", cfg.Logging.Level)
		assert.Equal(t, 7, cfg.Retention.MaxAgeDays)
		assert.Equal(t, "0 3 * * *", cfg.Retention.Schedule)
		assert.Equal(t, filepath.Join("/var/lib/valiqor", "index.db"), cfg.Index.DBPath)

		// untouched sections keep their defaults
		assert.True(t, cfg.Logging.Redaction)
		assert.True(t, cfg.Retention.Compress)
	})

	t.Run("comments and trailing commas", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "valiqor.json")
		testConfig := `{
			// where traces go
			"base_dir": "/var/traces",
			/* keep a week */
			"retention": {"max_age_days": 7,},
		}`
		require.NoError(t, os.WriteFile(configPath, []byte(testConfig), 0o644))

		cfg, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "/var/traces", cfg.BaseDir)
		assert.Equal(t, 7, cfg.Retention.MaxAgeDays)
	})

	t.Run("environment overrides", func(t *testing.T) {
		t.Setenv("HOME", t.TempDir())
		t.Setenv("VALIQOR_BASE_DIR", "/tmp/from-env")
		t.Setenv("VALIQOR_LOGGING_LEVEL", "error")

		cfg, err := NewLoader(filepath.Join(t.TempDir(), "missing.json")).Load()
		require.NoError(t, err)

		assert.Equal(t, "/tmp/from-env", cfg.BaseDir)
		assert.Equal(t, "error", cfg.Logging.Level)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "invalid.json")
		require.NoError(t, os.WriteFile(configPath, []byte("invalid json"), 0o644))

		_, err := NewLoader(configPath).Load()
		assert.Error(t, err)
	})
}

func TestLoaderSave(t *testing.T) {
	t.Run("round trip", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "valiqor.json")

		cfg := DefaultConfig()
		cfg.BaseDir = "/srv/traces"
		cfg.DataDir = "/srv/valiqor"
		cfg.Redaction.Keys = []string{"customer_id"}
		cfg.Metrics.Enabled = true

		require.NoError(t, NewLoader(configPath).Save(cfg))

		loaded, err := NewLoader(configPath).Load()
		require.NoError(t, err)
		assert.Equal(t, "/srv/traces", loaded.BaseDir)
		assert.Equal(t, []string{"customer_id"}, loaded.Redaction.Keys)
		assert.True(t, loaded.Metrics.Enabled)
	})

	t.Run("create directory if not exists", func(t *testing.T) {
		configPath := filepath.Join(t.TempDir(), "subdir", "valiqor.json")

		require.NoError(t, NewLoader(configPath).Save(DefaultConfig()))

		_, err := os.Stat(configPath)
		assert.NoError(t, err)
	})
}

func TestLoaderGetConfigPath(t *testing.T) {
	t.Run("custom path", func(t *testing.T) {
		loader := NewLoader("/custom/path/config.json")
		assert.Equal(t, "/custom/path/config.json", loader.GetConfigPath())
	})

	t.Run("default path", func(t *testing.T) {
		t.Setenv("HOME", "/home/tester")
		loader := NewLoader("")
		assert.Equal(t, filepath.Join("/home/tester", ".valiqor", "valiqor.json"), loader.GetConfigPath())
	})
}
