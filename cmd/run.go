package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/stratapipe/strata/internal/pipeline"
)

func runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute one stage of the pipeline",
		Long:  "Executes every task of the given stage in plan order and prints the stage result. Stages are idempotent: re-running a stage re-extracts the same incremental window and overwrites its artifacts.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			stageName, _ := cmd.Flags().GetString("stage")
			stage, err := pipeline.ParseStage(stageName)
			if err != nil {
				return err
			}
			runID, _ := cmd.Flags().GetString("run-id")
			if runID == "" {
				runID = uuid.NewString()
			}
			file, _ := cmd.Flags().GetString("file")
			pl, err := a.loadPipeline(file)
			if err != nil {
				return err
			}

			exec, err := a.stageExecutor(ctx, pl)
			if err != nil {
				return err
			}

			result, execErr := exec.ExecuteStage(ctx, stage, runID)
			if result != nil {
				data, err := json.MarshalIndent(result, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(data))
			}
			return execErr
		},
	}
	cmd.Flags().StringP("stage", "s", "", "stage to execute (bronze, silver, gold)")
	cmd.Flags().String("run-id", "", "run id (generated when omitted)")
	cmd.Flags().StringP("file", "f", "", "pipeline definition file")
	_ = cmd.MarkFlagRequired("stage")
	return cmd
}

func triggerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Start a new run by enqueuing its bronze stage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, a, err := setup(cmd.Context())
			if err != nil {
				return err
			}
			defer a.close()

			file, _ := cmd.Flags().GetString("file")
			pl, err := a.loadPipeline(file)
			if err != nil {
				return err
			}

			sched := newScheduler(a, pl)
			runID, err := sched.Trigger(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), runID)
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "pipeline definition file")
	return cmd
}
