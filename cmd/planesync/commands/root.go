package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool

	buildVersion = "dev"
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	buildVersion = version
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "planesync",
		Short: "planesync - batch provisioning for Plane workspaces",
		Long: `planesync creates Plane projects, cycles, modules and issues from a batch
template and records every created resource in a ledger, so a whole batch can
be removed again with one command.

Features:
  - Templates in YAML, JSON, CUE or Starlark
  - Strict creation order with a durable per-resource ledger
  - Cleanup in reverse creation order that converges on re-run
  - Rego policies checked before any remote call
  - HTTP API with Prometheus metrics`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (default ./planesync.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	rootCmd.AddCommand(newInitCommand())
	rootCmd.AddCommand(newValidateCommand())
	rootCmd.AddCommand(newCreateCommand())
	rootCmd.AddCommand(newCleanupCommand())
	rootCmd.AddCommand(newBatchesCommand())
	rootCmd.AddCommand(newMetadataCommand())
	rootCmd.AddCommand(newPingCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newConfigCommand())

	return rootCmd
}
