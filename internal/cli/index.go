package cli

import (
	"fmt"
	"text/tabwriter"

	"github.com/harun/valiqor/pkg/index"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Catalog trace files in a SQLite index",
	Long: `Read every trace file in dir (default: the trace directory) into a
SQLite index so runs and spans can be queried.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIndex,
}

var (
	indexDB   string
	indexList int
	indexSpan string
)

func init() {
	indexCmd.Flags().StringVar(&indexDB, "db", "", "index database (default index.db_path)")
	indexCmd.Flags().IntVar(&indexList, "list", 0, "print the N most recent runs after indexing")
	indexCmd.Flags().StringVar(&indexSpan, "span", "", "print every indexed span with this name")
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	dir := a.cfg.BaseDir
	if len(args) == 1 {
		dir = args[0]
	}
	dbPath := indexDB
	if dbPath == "" {
		dbPath = a.cfg.Index.DBPath
	}

	ix, err := index.Open(dbPath, index.WithLogger(a.logger("index")))
	if err != nil {
		return err
	}
	defer ix.Close()

	ctx := cmd.Context()
	n, err := ix.IndexDir(ctx, dir)
	if err != nil {
		return err
	}
	a.printf("Indexed %d trace files into %s\n", n, dbPath)

	if indexList > 0 {
		runs, err := ix.ListRuns(ctx, indexList)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(a.out, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "RUN ID\tAPP\tENV\tSTARTED\tSPANS\tDURATION\tCOMPLETE")
		for _, r := range runs {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%.2fms\t%t\n",
				r.RunID, r.App, r.Env, r.StartedAt, r.SpanCount, r.DurationMs, r.Complete)
		}
		if err := w.Flush(); err != nil {
			return err
		}
	}

	if indexSpan != "" {
		spans, err := ix.SpansByName(ctx, indexSpan)
		if err != nil {
			return err
		}
		for _, sp := range spans {
			fields, err := sp.Fields.MarshalJSON()
			if err != nil {
				return err
			}
			a.printf("%s %s %s\n", sp.RunID, sp.Timestamp, fields)
		}
	}
	return nil
}
