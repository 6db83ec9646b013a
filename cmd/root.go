// Package cmd defines the CLI commands for the harvester executable.
package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/schoolwatch/harvester/internal/app"
	"github.com/schoolwatch/harvester/internal/config"
)

var cfgFile string

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "harvester",
		Short: "Unattended announcement harvester for school websites",
		Long: `harvester polls configured RSS feeds and HTML announcement pages,
extracts structured records from new announcements, deduplicates them
against the store and delivers eligible items to a chat webhook under a
cascade of rate limits.`,
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (environment variables with the HARVESTER_ prefix override it)")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newServeCmd())
	return cmd
}

// buildApp loads configuration and wires the service container.
func buildApp(ctx context.Context) (*app.App, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return app.Build(ctx, cfg)
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
