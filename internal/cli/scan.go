package cli

import (
	"github.com/harun/valiqor/pkg/scanner"
	"github.com/spf13/cobra"
)

var scanCmd = &cobra.Command{
	Use:   "scan <repo>",
	Short: "Scan a repository into a context map",
	Long: `Walk a repository and write a JSON context map listing source files,
likely prompt files and the directory structure.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

var scanOut string

func init() {
	scanCmd.Flags().StringVar(&scanOut, "out", "context_map.json", "output file")
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	opts := []scanner.Option{scanner.WithLogger(a.logger("scanner"))}
	if len(a.cfg.Scanner.Extensions) > 0 {
		opts = append(opts, scanner.WithExtensions(a.cfg.Scanner.Extensions...))
	}
	if a.cfg.Scanner.MaxFiles > 0 {
		opts = append(opts, scanner.WithMaxFiles(a.cfg.Scanner.MaxFiles))
	}

	a.printf("Scanning repository: %s\n", args[0])
	cm, err := scanner.Scan(args[0], scanOut, opts...)
	if err != nil {
		return err
	}

	a.printf("Scanned %d files (%d bytes)\n", cm.FileCount, cm.TotalSizeBytes)
	a.printf("   Found %d prompt files\n", len(cm.Prompts))
	a.printf("   Saved to: %s\n", scanOut)
	return nil
}
