package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/autoops/autoops/pkg/engine"
)

func newRunCommand() *cobra.Command {
	var (
		priority string
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "run <request>",
		Short: "Run a single request and wait for the result",
		Long: `Submit one natural language request, wait until the task reaches a
terminal status, and print the task record as JSON.

The process exits non-zero when the task fails or is cancelled.`,
		Example: `  # Scale a deployment
  autoops run "scale the nginx deployment to 3 replicas"

  # Run with a raised priority and a tight deadline
  autoops run "delete the staging namespace" --priority high --timeout 1m`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			stack, err := buildStack(ctx, cmd.Root().Version)
			if err != nil {
				return err
			}
			defer stack.close()

			prio := engine.TaskPriority(priority)
			if err := prio.Validate(); err != nil {
				return err
			}

			stack.manager.Start(1)
			id, err := stack.manager.Submit(ctx, args[0], prio, timeout)
			if err != nil {
				return fmt.Errorf("failed to submit task: %w", err)
			}

			snap, err := waitForTask(cmd, stack.manager, id)
			if err != nil {
				return err
			}

			out := json.NewEncoder(os.Stdout)
			out.SetIndent("", "  ")
			if err := out.Encode(snap); err != nil {
				return err
			}
			if snap.Status != engine.TaskStatusCompleted {
				return fmt.Errorf("task %s %s", id, snap.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&priority, "priority", "p", "normal", "task priority (low, normal, high, critical)")
	cmd.Flags().DurationVarP(&timeout, "timeout", "t", 0, "task timeout (0 uses the configured default)")

	return cmd
}

func waitForTask(cmd *cobra.Command, manager *engine.Manager, id string) (engine.TaskSnapshot, error) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-cmd.Context().Done():
			manager.Cancel(id)
			return engine.TaskSnapshot{}, cmd.Context().Err()
		case <-ticker.C:
			snap, err := manager.GetStatus(id)
			if err != nil {
				return engine.TaskSnapshot{}, err
			}
			if snap.Status.IsTerminal() {
				return snap, nil
			}
		}
	}
}
