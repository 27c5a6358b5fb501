package coordinator

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
)

// Scheduler enqueues a fresh run on a cron schedule. Each tick creates a
// run record in Scheduled and a bronze stage message; the worker carries the
// run through the remaining stages.
type Scheduler struct {
	queue        QueueStore
	runs         RunStore
	pipelineName string
	schedule     string
	cron         *cron.Cron
}

func NewScheduler(queue QueueStore, runs RunStore, pipelineName, schedule string) *Scheduler {
	return &Scheduler{
		queue:        queue,
		runs:         runs,
		pipelineName: pipelineName,
		schedule:     schedule,
	}
}

// Trigger starts one run immediately and returns its id.
func (s *Scheduler) Trigger(ctx context.Context) (string, error) {
	runID := uuid.NewString()
	if err := s.runs.Create(ctx, Run{ID: runID, Pipeline: s.pipelineName, State: StateScheduled}); err != nil {
		return "", fmt.Errorf("failed to create run: %w", err)
	}
	if err := s.queue.Enqueue(ctx, NewMessage(s.pipelineName, pipeline.StageBronze, runID)); err != nil {
		return "", fmt.Errorf("failed to enqueue run %s: %w", runID, err)
	}
	logger.Info(ctx, "Run scheduled",
		tag.RunID(runID),
		tag.String("pipeline", s.pipelineName))
	return runID, nil
}

// Start registers the cron entry and runs until the context is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		return fmt.Errorf("pipeline %s has no schedule", s.pipelineName)
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(s.schedule, func() {
		if _, err := s.Trigger(ctx); err != nil {
			logger.Error(ctx, "Scheduled trigger failed", tag.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", s.schedule, err)
	}

	logger.Info(ctx, "Scheduler started",
		tag.String("pipeline", s.pipelineName),
		tag.String("schedule", s.schedule))
	s.cron.Start()
	<-ctx.Done()
	stopCtx := s.cron.Stop()
	<-stopCtx.Done()
	return ctx.Err()
}
