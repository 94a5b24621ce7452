package cli

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/convivencia/phidiasync/internal/client/api"
)

const statusRunning = "RUNNING"

func newTriggerCmd(a *App) *cobra.Command {
	var (
		wait     bool
		interval time.Duration
	)

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a sync run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			ctx := cmd.Context()

			runID, err := a.client.Trigger(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Started run %s\n", runID)

			if !wait {
				return nil
			}

			run, logs, err := a.waitRun(ctx, runID, interval)
			if err != nil {
				return err
			}
			printRun(a.out, run, logs)
			return nil
		},
	}
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "wait for the run to finish and print its logs")
	cmd.Flags().DurationVar(&interval, "poll", 2*time.Second, "polling interval with --wait")
	return cmd
}

// waitRun polls the run until it leaves RUNNING or ctx is done.
func (a *App) waitRun(ctx context.Context, runID string, interval time.Duration) (*api.Run, []api.Log, error) {
	if interval <= 0 {
		interval = time.Second
	}
	t := time.NewTicker(interval)
	defer t.Stop()

	for {
		run, logs, err := a.client.Run(ctx, runID)
		if err != nil {
			return nil, nil, err
		}
		if run.Status != statusRunning {
			return run, logs, nil
		}
		a.logger.Debug(ctx, "run still in progress", "run_id", runID, "phases", len(logs))

		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		case <-t.C:
		}
	}
}

func newAbortCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "abort [run-id]",
		Short: "Cancel the run in progress",
		Long:  "Cancel a run. Without an argument the currently running run is aborted.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			ctx := cmd.Context()

			var runID string
			if len(args) == 1 {
				runID = args[0]
			} else {
				st, err := a.client.Status(ctx)
				if err != nil {
					return err
				}
				if st.Running == nil {
					return errors.New("no run in progress")
				}
				runID = st.Running.ID
			}

			if err := a.client.Abort(ctx, runID); err != nil {
				return err
			}
			fmt.Fprintf(a.out, "Abort requested for run %s\n", runID)
			return nil
		},
	}
}

func newStatusCmd(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the running run, the last finished run and watermarks",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			st, err := a.client.Status(cmd.Context())
			if err != nil {
				return err
			}
			printStatus(a.out, st)
			return nil
		},
	}
}
