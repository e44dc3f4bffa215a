package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewBackupCommand creates the backup command.
func NewBackupCommand() *cobra.Command {
	var runDate string

	cmd := &cobra.Command{
		Use:   "backup <table>",
		Short: "Copy a table into its backup twin",
		Long: `Create the table's backup twin (its name plus the backup suffix) and
copy every row into it. Fails if the backup name collides with a
cataloged table.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cmdCtx, cleanup, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			defer cleanup()

			if runDate == "" {
				runDate = today()
			}

			out, err := cmdCtx.Runtime.Pipeline().RunBackup(cmd.Context(), args[0], runDate)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "backed up %s: %d rows in %.2fs\n",
				args[0], out.Rows, out.Elapsed)
			return nil
		},
	}

	cmd.Flags().StringVar(&runDate, "date", "", "Run date (YYYY-MM-DD), defaults to today")
	return cmd
}
