// Package coordinator decouples stage scheduling from stage execution: a
// queue carries one message per (run, stage), workers consume messages
// at-least-once under visibility leases, and a run state machine tracks each
// pipeline run from Scheduled to Completed or Failed.
package coordinator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/stratapipe/strata/internal/pipeline"
)

// ErrQueueEmpty is returned by Dequeue when no message is currently visible.
var ErrQueueEmpty = errors.New("queue empty")

// Message is one unit of stage work. A message is delivered at least once:
// consumers must tolerate redelivery of a stage they already completed.
type Message struct {
	ID         string         `json:"id"`
	Pipeline   string         `json:"pipeline"`
	Stage      pipeline.Stage `json:"stage"`
	RunID      string         `json:"runId"`
	EnqueuedAt time.Time      `json:"enqueuedAt"`
	// Deliveries counts how many times the message has been handed to a
	// consumer, including the current delivery.
	Deliveries int `json:"deliveries"`
}

// NewMessage builds a stage message for a run.
func NewMessage(pipelineName string, stage pipeline.Stage, runID string) Message {
	return Message{
		ID:         uuid.NewString(),
		Pipeline:   pipelineName,
		Stage:      stage,
		RunID:      runID,
		EnqueuedAt: time.Now().UTC(),
	}
}

// QueueStore is a durable FIFO queue with visibility leases.
//
// Dequeue hands out the oldest visible message and leases it for the
// store's visibility timeout; a message neither acked nor dead-lettered
// before the lease expires becomes visible again with an incremented
// delivery count. Ack and DeadLetter both remove the message from the
// active queue; DeadLetter parks it for inspection instead of discarding.
type QueueStore interface {
	Enqueue(ctx context.Context, msg Message) error
	Dequeue(ctx context.Context) (*Message, error)
	Ack(ctx context.Context, id string) error
	DeadLetter(ctx context.Context, id string) error
	Len(ctx context.Context) (int, error)
}
