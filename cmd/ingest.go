package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schoolwatch/harvester/internal/harvest"
)

func newIngestCmd() *cobra.Command {
	var (
		dryRun     bool
		sourceName string
	)
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one harvest cycle and exit",
		Long: `Polls every active source once, pushing eligible new announcements.
With --dry-run the full pipeline executes (fetch, parse, extract, dedup)
but nothing is delivered and no push state is written.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.RunOnce(cmd.Context(), harvest.RunOptions{
				DryRun:     dryRun,
				SourceName: sourceName,
			})
			if err != nil {
				return fmt.Errorf("ingest run: %w", err)
			}

			out, err := json.MarshalIndent(report, "", "  ")
			if err != nil {
				return fmt.Errorf("encode report: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run the pipeline without delivering or writing push state")
	cmd.Flags().StringVar(&sourceName, "source", "", "restrict the run to the named source")
	return cmd
}
