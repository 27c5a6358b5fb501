package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stratapipe/strata/internal/plan"
)

func planCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Build and print the execution plan without running anything",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			file, _ := cmd.Flags().GetString("file")
			pl, err := a.loadPipeline(file)
			if err != nil {
				return err
			}

			execPlan, err := plan.Plan(pl)
			if err != nil {
				return err
			}
			data, err := execPlan.Encode()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "pipeline definition file")
	return cmd
}
