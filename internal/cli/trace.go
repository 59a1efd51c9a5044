package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"text/tabwriter"

	"github.com/harun/valiqor/internal/metrics"
	"github.com/harun/valiqor/pkg/sink"
	"github.com/harun/valiqor/pkg/trace"
	"github.com/harun/valiqor/pkg/tracefile"
	"github.com/harun/valiqor/pkg/value"
	"github.com/spf13/cobra"
)

var traceCmd = &cobra.Command{
	Use:   "trace",
	Short: "Record and read trace files",
}

var traceRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Record a synthetic trace",
	Long: `Record a synthetic workflow as a trace file. The "rag" scenario
records a retrieval-augmented generation run; any other scenario id records
the demo workflow under that label.`,
	Args: cobra.NoArgs,
	RunE: runTraceRun,
}

var traceInspectCmd = &cobra.Command{
	Use:   "inspect <file>",
	Short: "Summarize a trace file",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceInspect,
}

var traceTailCmd = &cobra.Command{
	Use:   "tail <file>",
	Short: "Follow a trace file until its run completes",
	Args:  cobra.ExactArgs(1),
	RunE:  runTraceTail,
}

var traceLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List trace files in the trace directory",
	Args:  cobra.NoArgs,
	RunE:  runTraceLs,
}

var (
	runApp      string
	runScenario string
	runEnv      string
	runMetrics  bool

	inspectJSON   bool
	inspectStrict bool
)

func init() {
	traceRunCmd.Flags().StringVar(&runApp, "app", "", "application name (required)")
	traceRunCmd.Flags().StringVar(&runScenario, "scenario", "demo", "scenario id")
	traceRunCmd.Flags().StringVar(&runEnv, "env", "", "environment label (default from config)")
	traceRunCmd.Flags().BoolVar(&runMetrics, "metrics", false, "print collected metrics after the run")
	traceRunCmd.MarkFlagRequired("app")

	traceInspectCmd.Flags().BoolVar(&inspectJSON, "json", false, "print the raw records")
	traceInspectCmd.Flags().BoolVar(&inspectStrict, "strict", false, "fail when the trace is incomplete")

	traceCmd.AddCommand(traceRunCmd, traceInspectCmd, traceTailCmd, traceLsCmd)
	rootCmd.AddCommand(traceCmd)
}

func runTraceRun(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if runMetrics && a.metrics == nil {
		a.metrics = metrics.NewMetrics()
	}

	log := a.logger("trace")
	fileSink, err := sink.NewFileSink(
		sink.WithBaseDir(a.cfg.BaseDir),
		sink.WithSync(a.cfg.Sync),
		sink.WithLogger(log),
		sink.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	defer fileSink.Close()

	env := runEnv
	if env == "" {
		env = a.cfg.Env
	}

	tr, err := trace.New(runApp,
		trace.WithEnv(env),
		trace.WithSink(fileSink),
		trace.WithRedactor(a.redactor),
		trace.WithLogger(log),
		trace.WithMetrics(a.metrics),
	)
	if err != nil {
		return err
	}
	defer tr.Close()

	sc := lookupScenario(runScenario)
	a.printf("Running trace for %s (scenario: %s)\n", runApp, runScenario)

	sess, err := tr.Begin(cmd.Context(), sc.metadata(runScenario)...)
	if err != nil {
		return err
	}
	a.printf("Trace started: %s\n", sess.Path())

	bodyErr := sc.run(sess.Context(), tr, a.out)
	if err := sess.End(bodyErr); err != nil {
		return err
	}

	stream, err := tracefile.Read(sess.Path())
	if err != nil {
		return err
	}
	a.printf("Trace completed: %d spans, %.0fms\n", stream.SpanCount(), durationMs(stream.Summary))
	a.printf("   Saved to: %s\n", sess.Path())

	if runMetrics {
		return a.dumpMetrics(a.out)
	}
	return nil
}

func durationMs(summary *value.Map) float64 {
	if summary == nil {
		return 0
	}
	v, _ := summary.Get("duration_ms")
	f, _ := v.AsFloat()
	return f
}

func runTraceInspect(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	stream, err := tracefile.Read(args[0])
	if err != nil {
		return err
	}

	if inspectJSON {
		for _, rec := range stream.Records {
			data, err := rec.MarshalJSON()
			if err != nil {
				return err
			}
			a.printf("%s\n", data)
		}
	} else {
		printStream(a, stream)
	}

	if inspectStrict {
		return stream.Validate()
	}
	return nil
}

func printStream(a *app, s *tracefile.Stream) {
	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Run:\t%s\n", s.RunID())
	fmt.Fprintf(w, "App:\t%s (env %s)\n", s.Metadata.GetString(trace.KeyApp), s.Metadata.GetString(trace.KeyEnv))
	fmt.Fprintf(w, "Started:\t%s\n", s.Metadata.GetString(sink.KeyTimestamp))
	fmt.Fprintf(w, "Spans:\t%d\n", len(s.Spans))
	w.Flush()

	for i, span := range s.Spans {
		a.printf("  %d. %s\t%s\n", i+1, span.GetString(trace.KeyName), span.GetString(sink.KeyTimestamp))
	}

	if s.Summary != nil {
		a.printf("Duration: %.2fms\n", durationMs(s.Summary))
	}
	if err := s.Validate(); err != nil {
		a.printf("Status: incomplete (%v)\n", err)
		return
	}
	a.printf("Status: complete\n")
}

func runTraceTail(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	err = tracefile.Follow(ctx, args[0], func(rec *value.Map) error {
		data, err := rec.MarshalJSON()
		if err != nil {
			return err
		}
		a.printf("%s\n", data)
		return nil
	})
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runTraceLs(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := tracefile.List(a.cfg.BaseDir)
	if errors.Is(err, fs.ErrNotExist) || (err == nil && len(entries) == 0) {
		a.printf("No traces in %s\n", a.cfg.BaseDir)
		return nil
	}
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tSIZE\tMODIFIED\tFILE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\t%s\t%s\n", e.RunID, e.Size, e.ModTime.UTC().Format("2006-01-02 15:04:05"), e.Path)
	}
	return w.Flush()
}
