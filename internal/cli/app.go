package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/harun/valiqor/internal/config"
	"github.com/harun/valiqor/internal/logger"
	"github.com/harun/valiqor/internal/metrics"
	"github.com/harun/valiqor/internal/tracing"
	"github.com/harun/valiqor/pkg/redact"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// app carries what every command needs after config is resolved
type app struct {
	cfg      *config.Config
	log      *logger.Logger
	redactor *redact.Redactor
	metrics  *metrics.Metrics
	out      io.Writer
}

// setup loads config, applies global flags and builds the logger. Callers
// must Close the result.
func setup(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if baseDir != "" {
		cfg.BaseDir = baseDir
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	redactor, err := cfg.Redactor()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.Config{
		Level:     cfg.Logging.Level,
		File:      cfg.Logging.File,
		Console:   true,
		Pretty:    cfg.Logging.Pretty,
		Redaction: cfg.Logging.Redaction,
		MaxSize:   cfg.Logging.MaxSize,
		MaxAge:    cfg.Logging.MaxAge,
		Compress:  cfg.Logging.Compress,
		Output:    cmd.ErrOrStderr(),
		Redactor:  redactor,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := tracing.InitOpenTelemetry("valiqor"); err != nil {
		log.Warn().Err(err).Msg("OpenTelemetry disabled")
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		redactor: redactor,
		out:      cmd.OutOrStdout(),
	}
	if cfg.Metrics.Enabled {
		a.metrics = metrics.NewMetrics()
	}
	return a, nil
}

func (a *app) logger(component string) zerolog.Logger {
	return a.log.Component(component)
}

func (a *app) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// dumpMetrics writes the collected metrics in the prometheus text format
func (a *app) dumpMetrics(w io.Writer) error {
	return a.metrics.WriteText(w)
}

func (a *app) Close() error {
	tracing.ShutdownOpenTelemetry(context.Background())
	return a.log.Close()
}
