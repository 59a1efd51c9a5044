package cli

import (
	"os"
	"os/signal"
	"time"

	"github.com/harun/valiqor/pkg/retention"
	"github.com/spf13/cobra"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove and compress old trace files",
	Long: `Apply the retention policy to the trace directory: traces older than
max_age_days are removed and finished traces are gzipped. With --watch the
policy runs on the configured cron schedule until interrupted.`,
	Args: cobra.NoArgs,
	RunE: runPrune,
}

var (
	pruneMaxAgeDays int
	pruneWatch      bool
)

func init() {
	pruneCmd.Flags().IntVar(&pruneMaxAgeDays, "max-age-days", -1, "override retention.max_age_days (0 keeps traces forever)")
	pruneCmd.Flags().BoolVar(&pruneWatch, "watch", false, "keep running on retention.schedule")
	rootCmd.AddCommand(pruneCmd)
}

func runPrune(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	days := a.cfg.Retention.MaxAgeDays
	if pruneMaxAgeDays >= 0 {
		days = pruneMaxAgeDays
	}

	p := retention.New(a.cfg.BaseDir,
		retention.WithMaxAge(time.Duration(days)*24*time.Hour),
		retention.WithCompress(a.cfg.Retention.Compress, time.Duration(a.cfg.Retention.CompressAfterHours)*time.Hour),
		retention.WithLogger(a.logger("retention")),
	)

	res, err := p.Prune()
	if err != nil {
		return err
	}
	a.printf("Removed %d traces, compressed %d\n", len(res.Removed), len(res.Compressed))

	if !pruneWatch {
		return nil
	}

	if err := p.Schedule(a.cfg.Retention.Schedule); err != nil {
		return err
	}
	defer p.Stop()

	a.printf("Watching %s (schedule %s)\n", a.cfg.BaseDir, a.cfg.Retention.Schedule)
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()
	<-ctx.Done()
	return nil
}
