package commands

import (
	"fmt"
	"sort"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

// NewListCommand creates the list command.
func NewListCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List cataloged tables and pipelines with their run state",
		Example: `  # List everything
  flowctl list

  # Tables only
  flowctl list tables`,
		Args:      cobra.MaximumNArgs(1),
		ValidArgs: []string{"tables", "pipelines"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			what := "all"
			if len(args) == 1 {
				what = args[0]
			}
			if what == "all" || what == "tables" {
				if err := listTables(cmd, cmdCtx); err != nil {
					return err
				}
			}
			if what == "all" || what == "pipelines" {
				if err := listPipelines(cmd, cmdCtx); err != nil {
					return err
				}
			}
			return nil
		},
	}
	return cmd
}

func listTables(cmd *cobra.Command, c *CommandContext) error {
	ctx := cmd.Context()

	tables := c.Registry.Tables()
	names := make([]string, 0, len(tables))
	for name := range tables {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"table", "type", "run type", "processes", "data date", "runs", "quota"})

	for _, name := range names {
		tbl := tables[name]
		dataDate, runs, quota := "-", "-", "-"
		if wm, err := c.Store.Watermark(ctx, name); err == nil {
			dataDate = wm.DataDate
			runs = fmt.Sprintf("%d", wm.RunCountNow)
			if wm.RunCountMax == 0 {
				quota = "unlimited"
			} else {
				quota = fmt.Sprintf("%d/%d", wm.RunCountNow, wm.RunCountMax)
			}
		}
		t.AppendRow(table.Row{
			name, tbl.Control.TableType, tbl.Control.RunType,
			len(tbl.Processes), dataDate, runs, quota,
		})
	}
	t.Render()
	return nil
}

func listPipelines(cmd *cobra.Command, c *CommandContext) error {
	ctx := cmd.Context()

	pipes := c.Registry.Pipelines()
	names := make([]string, 0, len(pipes))
	for name := range pipes {
		names = append(names, name)
	}
	sort.Strings(names)

	t := table.NewWriter()
	t.SetOutputMirror(cmd.OutOrStdout())
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"pipeline", "id", "nodes", "schedule", "trigger", "tracking"})

	for _, name := range names {
		p := pipes[name]
		trig := "-"
		if p.Trigger != nil {
			trig = p.Trigger.String()
		}
		tracking := "-"
		if row, err := c.Store.Schedule(ctx, p.ID); err == nil {
			tracking = row.Tracking
		}
		t.AppendRow(table.Row{
			name, p.ID, len(p.Nodes), strings.Join(p.Schedule, ","), trig, tracking,
		})
	}
	t.Render()
	return nil
}
