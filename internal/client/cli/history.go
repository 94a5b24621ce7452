package cli

import (
	"github.com/spf13/cobra"

	"github.com/convivencia/phidiasync/internal/client/api"
)

func newHistoryCmd(a *App) *cobra.Command {
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List past runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			runs, err := a.client.History(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			printRuns(a.out, runs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs")
	cmd.Flags().IntVar(&offset, "offset", 0, "runs to skip")
	return cmd
}

func newLogsCmd(a *App) *cobra.Command {
	var (
		phase  string
		limit  int
		offset int
	)

	cmd := &cobra.Command{
		Use:   "logs [run-id]",
		Short: "Show phase logs, for one run or across runs",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.requireSession(); err != nil {
				return err
			}
			ctx := cmd.Context()

			if len(args) == 1 && phase == "" {
				run, logs, err := a.client.Run(ctx, args[0])
				if err != nil {
					return err
				}
				printRun(a.out, run, logs)
				return nil
			}

			f := api.LogFilter{Phase: phase}
			if len(args) == 1 {
				f.RunID = args[0]
			}
			logs, err := a.client.Logs(ctx, f, limit, offset)
			if err != nil {
				return err
			}
			printLogs(a.out, logs)
			return nil
		},
	}
	cmd.Flags().StringVar(&phase, "phase", "", "only this phase, e.g. students")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "number of log entries")
	cmd.Flags().IntVar(&offset, "offset", 0, "entries to skip")
	return cmd
}
