// Package cmd implements the strata command line interface.
package cmd

import (
	"github.com/spf13/cobra"

	"github.com/stratapipe/strata/internal/build"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:          build.Slug,
	Short:        "Medallion pipeline orchestration",
	Long:         "Strata orchestrates multi-stage data pipelines: incremental extraction into bronze, contract-enforced refinement into silver, and aggregation into gold.",
	SilenceUsage: true,
}

// Execute runs the root command. Called by main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is $XDG_CONFIG_HOME/strata/config.yaml)")

	rootCmd.AddCommand(planCmd())
	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(triggerCmd())
	rootCmd.AddCommand(workerCmd())
	rootCmd.AddCommand(schedulerCmd())
	rootCmd.AddCommand(checkpointCmd())
	rootCmd.AddCommand(contractCmd())
	rootCmd.AddCommand(versionCmd())
}
