package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/control"
)

// NewRetentionCommand creates the retention command.
func NewRetentionCommand() *cobra.Command {
	var runDate string

	cmd := &cobra.Command{
		Use:   "retention",
		Short: "Age out rows past each table's retention window",
		Long: `Run the retention pass over every active table whose watermark carries
a retention window. Per-table failures are reported but do not stop the
pass.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if runDate == "" {
				runDate = today()
			}

			outcomes, err := cmdCtx.Runtime.Pipeline().RunRetention(cmd.Context(), runDate)
			if err != nil {
				return err
			}

			failed := 0
			for _, out := range outcomes {
				if out.Status == control.StatusFailed {
					failed++
				}
				if out.Message != "" {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), out.Message)
				}
			}
			if failed > 0 {
				return fmt.Errorf("retention failed for %d of %d tables", failed, len(outcomes))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "retention complete for %d tables\n", len(outcomes))
			return nil
		},
	}

	cmd.Flags().StringVar(&runDate, "date", "", "Run date (YYYY-MM-DD), defaults to today")
	return cmd
}
