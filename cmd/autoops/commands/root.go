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
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "autoops",
		Short: "AutoOps - natural language cluster operations",
		Long: `AutoOps turns natural language requests into plans of cluster
resource operations and executes them through a managed task pipeline.

Features:
  - Priority task queue with a bounded worker pool
  - Plan, validate, execute workflow with bounded retries
  - Concurrent operation execution with rollback on failure
  - SQLite task persistence and Prometheus metrics`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	rootCmd.AddCommand(newServeCommand(version))
	rootCmd.AddCommand(newRunCommand())

	return rootCmd
}
