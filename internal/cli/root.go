// Package cli provides the command-line interface for flowctl.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datakit-labs/flowctl/internal/cli/commands"
	"github.com/datakit-labs/flowctl/internal/config"
)

var cfgFile string

// Version information (set at build time).
var (
	Version   = "0.1.0"
	BuildDate = "unknown"
	GitCommit = "unknown"
)

// NewRootCmd creates and returns the root command.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowctl",
		Short: "flowctl - Data Pipeline Control Framework",
		Long: `flowctl runs YAML-cataloged tables and pipelines against a database,
tracking every run through watermark and schedule control tables.

Define tables, functions and pipelines as YAML catalogs, then run them
on demand or on a cron schedule with retention and backup passes.`,
		Version: Version,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Name() == "help" || cmd.Name() == "completion" || cmd.Name() == "__complete" {
				return nil
			}

			cfg, err := config.Load(cfgFile, cmd.Root().PersistentFlags())
			if err != nil {
				return err
			}
			cmd.SetContext(commands.WithConfig(cmd.Context(), cfg))

			if cfg.Verbose && cfg.FileUsed != "" {
				fmt.Fprintf(os.Stderr, "Using config file: %s\n", cfg.FileUsed)
			}
			return nil
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.SetVersionTemplate(`{{.Name}} {{.Version}}
`)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./flowctl.yaml)")
	rootCmd.PersistentFlags().String("catalog-dir", "", "Path to the catalog root directory")
	rootCmd.PersistentFlags().String("system-type", "", "System type recorded on new watermarks")
	rootCmd.PersistentFlags().Int("workers", 0, "Max concurrent background tasks")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Verbose output")

	rootCmd.AddCommand(commands.NewVersionCommand(Version, BuildDate, GitCommit))
	rootCmd.AddCommand(commands.NewSetupCommand())
	rootCmd.AddCommand(commands.NewRunCommand())
	rootCmd.AddCommand(commands.NewRetentionCommand())
	rootCmd.AddCommand(commands.NewBackupCommand())
	rootCmd.AddCommand(commands.NewServeCommand())
	rootCmd.AddCommand(commands.NewListCommand())

	return rootCmd
}

// Execute runs the root command.
func Execute() error {
	rootCmd := NewRootCmd()
	rootCmd.SetContext(context.Background())
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return err
	}
	return nil
}
