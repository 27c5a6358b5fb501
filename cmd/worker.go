package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/pipeline"
)

func workerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Consume stage messages and execute stages until interrupted",
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
			exec, err := a.stageExecutor(ctx, pl)
			if err != nil {
				return err
			}

			worker := coordinator.NewWorker(coordinator.WorkerConfig{
				Queue:         a.queueStore(),
				Runs:          a.runStore(),
				Runner:        exec,
				PipelineName:  pl.Name,
				PollInterval:  a.cfg.Worker.PollInterval,
				MaxDeliveries: a.cfg.Queue.MaxDeliveries,
			})

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := worker.Run(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "pipeline definition file")
	return cmd
}

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "scheduler",
		Short: "Enqueue runs on the pipeline's cron schedule until interrupted",
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

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			if err := newScheduler(a, pl).Start(ctx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringP("file", "f", "", "pipeline definition file")
	return cmd
}

func newScheduler(a *app, pl *pipeline.Pipeline) *coordinator.Scheduler {
	return coordinator.NewScheduler(a.queueStore(), a.runStore(), pl.Name, pl.Schedule)
}
