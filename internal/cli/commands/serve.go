package commands

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/scheduler"
)

// NewServeCommand creates the serve command.
func NewServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler loop",
		Long: `Start the cron scheduler over the configured schedule groups, watch the
catalog directory for changes, and sweep the task table for stuck rows.
Runs until interrupted.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if len(cmdCtx.Cfg.Schedule) == 0 {
				return fmt.Errorf("no schedule groups configured, nothing to serve")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			sched := scheduler.New(cmdCtx.Runtime.Pipeline(), cmdCtx.Registry,
				cmdCtx.Cfg.Schedule, cmdCtx.Logger)
			if err := sched.Start(ctx); err != nil {
				return err
			}
			defer sched.Stop()

			go func() {
				if err := cmdCtx.Registry.Watch(ctx); err != nil {
					cmdCtx.Logger.Error("catalog watch stopped", "error", err)
				}
			}()

			go sweepLoop(ctx, cmdCtx)

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "serving %d schedule groups\n",
				len(cmdCtx.Cfg.Schedule))
			<-ctx.Done()
			cmdCtx.Runtime.Wait()
			return nil
		},
	}
}

// sweepLoop periodically flags stuck task rows.
func sweepLoop(ctx context.Context, c *CommandContext) {
	interval := time.Duration(c.Cfg.SweepSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := c.Runtime.SweepStuck(ctx, c.Cfg.SweepChecks, interval/4); err != nil &&
				ctx.Err() == nil {
				c.Logger.Error("stuck-process sweep failed", "error", err)
			}
		}
	}
}
