package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/config"
	"github.com/datakit-labs/flowctl/internal/control"
	"github.com/datakit-labs/flowctl/internal/statement"
)

// NewSetupCommand creates the setup command.
func NewSetupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Create control tables and register the catalog",
		Long: `Run the control-table migrations, create every cataloged table that
does not exist yet (with its seed data), register watermarks, and
register pipeline schedule rows.

Setup is idempotent: existing tables, watermarks and schedule rows are
left untouched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			return runSetup(cmd.Context(), cmd, cmdCtx)
		},
	}
}

func runSetup(ctx context.Context, cmd *cobra.Command, c *CommandContext) error {
	out := cmd.OutOrStdout()

	if err := migrateControlTables(ctx, c); err != nil {
		return err
	}
	_, _ = fmt.Fprintln(out, "control tables ready")

	runDate := today()
	created, registered := 0, 0
	for name, tbl := range c.Registry.Tables() {
		exists, err := c.Adapter.TableExists(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			if err := execBound(ctx, c, statement.Create(tbl)); err != nil {
				return fmt.Errorf("failed to create %s: %w", name, err)
			}
			if seed, ok := statement.Seed(tbl); ok {
				if err := execBound(ctx, c, seed); err != nil {
					return fmt.Errorf("failed to seed %s: %w", name, err)
				}
			}
			created++
		}

		has, err := c.Store.HasWatermark(ctx, name)
		if err != nil {
			return err
		}
		if !has {
			wm := control.WatermarkDefaults(tbl, c.Cfg.SystemType, runDate, time.Now())
			if err := c.Store.RegisterWatermark(ctx, wm); err != nil {
				return err
			}
			registered++
		}
	}
	_, _ = fmt.Fprintf(out, "tables: %d created, watermarks: %d registered\n", created, registered)

	schedules := 0
	for _, p := range c.Registry.Pipelines() {
		if _, err := c.Store.Schedule(ctx, p.ID); err == nil {
			continue
		}
		if err := c.Store.RegisterSchedule(ctx, &control.ScheduleRow{
			PipelineID:   p.ID,
			PipelineName: p.Name,
			PipelineType: "data",
			Tracking:     control.TrackingSuccess,
			ActiveFlag:   true,
			UpdateDate:   nowStamp(),
		}); err != nil {
			return err
		}
		schedules++
	}
	_, _ = fmt.Fprintf(out, "schedules: %d registered\n", schedules)
	return nil
}

// migrateControlTables runs goose where the dialect supports it and
// falls back to direct bootstrap DDL otherwise.
func migrateControlTables(ctx context.Context, c *CommandContext) error {
	switch c.Adapter.DialectName() {
	case "duckdb":
		return control.Bootstrap(ctx, c.Adapter)
	default:
		return control.Migrate(c.Adapter.DB(), c.Adapter.DialectName())
	}
}

func execBound(ctx context.Context, c *CommandContext, stmt string) error {
	bound, err := bindSchema(stmt, c.Cfg)
	if err != nil {
		return err
	}
	_, err = c.Adapter.Exec(ctx, bound)
	return err
}

// bindSchema substitutes the standing placeholders of a setup
// statement. An empty target schema drops the qualification entirely.
func bindSchema(stmt string, cfg *config.Config) (string, error) {
	if cfg.Target.Schema == "" {
		stmt = strings.ReplaceAll(stmt, "{"+statement.PlaceholderSchema+"}.", "")
	}
	return statement.Bind(stmt, statement.Vars{
		statement.PlaceholderSchema:   cfg.Target.Schema,
		statement.PlaceholderDatabase: cfg.Database,
	})
}

func nowStamp() string {
	return time.Now().Format(control.TimeLayout)
}
