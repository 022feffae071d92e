package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/autoops/autoops/pkg/api"
)

func newServeCommand(version string) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the AutoOps HTTP service",
		Long: `Start the task manager worker pool and serve the HTTP API.

The service accepts natural language task submissions, turns them into
operation plans, and executes them against the cluster backend. It runs
until interrupted.`,
		Example: `  # Serve with defaults on :8080
  autoops serve

  # Serve with a config file and custom address
  autoops serve -c autoops.yaml --addr :9090`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			stack, err := buildStack(ctx, version)
			if err != nil {
				return err
			}
			defer stack.close()
			if addr != "" {
				stack.cfg.Server.Addr = addr
			}

			stack.manager.Start(0)
			server := api.NewServer(stack.manager, stack.metrics, stack.logger,
				stack.cfg.Server, version)

			errCh := make(chan error, 1)
			go func() { errCh <- server.Start() }()

			select {
			case err := <-errCh:
				return fmt.Errorf("http server failed: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				stack.cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := server.Shutdown(shutdownCtx); err != nil {
				return fmt.Errorf("http server shutdown failed: %w", err)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")

	return cmd
}
