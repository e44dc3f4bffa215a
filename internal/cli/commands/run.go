package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/task"
)

// NewRunCommand creates the run command.
func NewRunCommand() *cobra.Command {
	var (
		kind        string
		dates       []string
		mode        string
		background  bool
		ingest      bool
		dropBefore  bool
		mockupOnly  bool
		skipMockups bool
	)

	cmd := &cobra.Command{
		Use:   "run <name>",
		Short: "Run a table or pipeline for one or more dates",
		Long: `Run a cataloged table or pipeline. Dates default to today; multiple
--date flags process each date in order. Rerun mode reprocesses past
dates that common mode rejects.`,
		Example: `  # Run a table for today
  flowctl run src_orders

  # Run a pipeline for two specific dates
  flowctl run daily_sales --type pipeline --date 2024-06-01 --date 2024-06-02

  # Reprocess a past date, deleting its rows first
  flowctl run src_orders --mode rerun --date 2024-05-01 --drop-before

  # Hand off to a background worker
  flowctl run daily_sales --type pipeline --background`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(dates) == 0 {
				dates = []string{today()}
			}
			params := task.Params{
				Type:        kind,
				Name:        args[0],
				Dates:       dates,
				Mode:        mode,
				DropBefore:  dropBefore,
				MockupOnly:  mockupOnly,
				SkipMockups: skipMockups,
			}

			module := "framework"
			if ingest {
				module = "ingestion"
			}

			rt := cmdCtx.Runtime
			ctx := cmd.Context()

			if background {
				queue := make(chan string, 2)
				if ingest {
					_, err = rt.IngestBackground(ctx, module, queue, params)
				} else {
					_, err = rt.Background(ctx, module, queue, params)
				}
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "task %s started for %s\n", <-queue, <-queue)
				rt.Wait()
				return nil
			}

			var tk *task.Task
			if ingest {
				tk, err = rt.IngestForeground(ctx, module, params)
			} else {
				tk, err = rt.Foreground(ctx, module, params)
			}
			if tk != nil && tk.Message != "" {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), tk.Message)
			}
			if err != nil {
				return err
			}
			if tk.Status != control.StatusSuccess {
				return fmt.Errorf("task %s finished with status %d", tk.ID, tk.Status)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&kind, "type", task.TypeTable, "Target kind (table|pipeline)")
	cmd.Flags().StringArrayVar(&dates, "date", nil, "Run date (YYYY-MM-DD), repeatable")
	cmd.Flags().StringVar(&mode, "mode", task.RunCommon, "Run mode (common|rerun)")
	cmd.Flags().BoolVar(&background, "background", false, "Run on a background worker")
	cmd.Flags().BoolVar(&ingest, "ingest", false, "Ingestion run (first date only)")
	cmd.Flags().BoolVar(&dropBefore, "drop-before", false, "Rerun: delete the window's rows first")
	cmd.Flags().BoolVar(&mockupOnly, "mockup-only", false, "Run only mockup processes")
	cmd.Flags().BoolVar(&skipMockups, "skip-mockups", false, "Suppress mockup processes")

	return cmd
}
