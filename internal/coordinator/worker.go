package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stratapipe/strata/internal/executor"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
)

const (
	DefaultPollInterval  = time.Second
	DefaultMaxDeliveries = 3
)

// StageRunner executes one stage of a run. It is implemented by the stage
// executor.
type StageRunner interface {
	ExecuteStage(ctx context.Context, stage pipeline.Stage, runID string) (*executor.StageResult, error)
}

// Worker consumes stage messages and chains a run through its stages. On
// stage success the message is acked and the next stage is enqueued. On
// stage failure the message is not acked: its visibility lease expires and
// the queue redelivers it, bounded by the delivery cap, after which the
// message is dead-lettered and the run moves to Failed. Redelivery can also
// replay a stage that actually completed (worker death after execution,
// before ack), which is why stage execution must be idempotent.
type Worker struct {
	queue         QueueStore
	runs          RunStore
	runner        StageRunner
	pipelineName  string
	pollInterval  time.Duration
	maxDeliveries int
}

// WorkerConfig wires a worker's collaborators.
type WorkerConfig struct {
	Queue        QueueStore
	Runs         RunStore
	Runner       StageRunner
	PipelineName string
	// PollInterval is the idle sleep between empty dequeues.
	PollInterval time.Duration
	// MaxDeliveries caps redeliveries before a message is dead-lettered
	// and its run marked Failed.
	MaxDeliveries int
}

func NewWorker(cfg WorkerConfig) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.MaxDeliveries <= 0 {
		cfg.MaxDeliveries = DefaultMaxDeliveries
	}
	return &Worker{
		queue:         cfg.Queue,
		runs:          cfg.Runs,
		runner:        cfg.Runner,
		pipelineName:  cfg.PipelineName,
		pollInterval:  cfg.PollInterval,
		maxDeliveries: cfg.MaxDeliveries,
	}
}

// Run consumes messages until the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	logger.Info(ctx, "Worker started",
		tag.String("pipeline", w.pipelineName))
	for {
		if err := ctx.Err(); err != nil {
			logger.Info(ctx, "Worker stopped")
			return err
		}
		processed, err := w.Step(ctx)
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error(ctx, "Worker step failed", tag.Error(err))
		}
		if !processed {
			select {
			case <-ctx.Done():
			case <-time.After(w.pollInterval):
			}
		}
	}
}

// Step processes at most one message. It reports whether a message was
// handled, so callers can drain a queue deterministically in tests.
func (w *Worker) Step(ctx context.Context) (bool, error) {
	msg, err := w.queue.Dequeue(ctx)
	if errors.Is(err, ErrQueueEmpty) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ctx = logger.WithValues(ctx,
		tag.MessageID(msg.ID),
		tag.RunID(msg.RunID),
		tag.Stage(string(msg.Stage)))

	if msg.Deliveries > w.maxDeliveries {
		logger.Error(ctx, "Delivery limit exceeded, dead-lettering",
			tag.Deliveries(msg.Deliveries))
		if err := w.queue.DeadLetter(ctx, msg.ID); err != nil {
			return true, err
		}
		w.fail(ctx, msg.RunID, fmt.Sprintf("stage %s exceeded %d deliveries", msg.Stage, w.maxDeliveries))
		return true, nil
	}

	if err := w.runs.Transition(ctx, msg.RunID, RunningState(msg.Stage), ""); err != nil {
		// A terminal run means the message is stale; drop it.
		if errors.Is(err, ErrBadTransition) || errors.Is(err, ErrRunNotFound) {
			logger.Warn(ctx, "Dropping stale stage message", tag.Error(err))
			return true, w.queue.Ack(ctx, msg.ID)
		}
		return true, err
	}

	result, execErr := w.runner.ExecuteStage(ctx, msg.Stage, msg.RunID)
	if execErr != nil {
		// No ack: the lease expires and the queue redelivers, up to the
		// delivery cap. The run stays in its running state so redelivery
		// can re-enter it.
		logger.Error(ctx, "Stage failed, leaving message for redelivery",
			tag.Deliveries(msg.Deliveries),
			tag.Error(execErr))
		return true, nil
	}

	if err := w.queue.Ack(ctx, msg.ID); err != nil {
		return true, err
	}
	logger.Info(ctx, "Stage completed",
		tag.String("tasks", fmt.Sprintf("%d", len(result.Tasks))))

	next, ok := msg.Stage.Next()
	if !ok {
		if err := w.runs.Transition(ctx, msg.RunID, StateCompleted, ""); err != nil {
			return true, err
		}
		logger.Info(ctx, "Run completed")
		return true, nil
	}
	if err := w.queue.Enqueue(ctx, NewMessage(msg.Pipeline, next, msg.RunID)); err != nil {
		return true, fmt.Errorf("failed to enqueue next stage %s: %w", next, err)
	}
	return true, nil
}

func (w *Worker) fail(ctx context.Context, runID, reason string) {
	if err := w.runs.Transition(ctx, runID, StateFailed, reason); err != nil {
		logger.Error(ctx, "Failed to mark run failed", tag.Error(err))
	}
}
