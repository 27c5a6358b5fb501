package filequeue_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/persistence/filequeue"
	"github.com/stratapipe/strata/internal/pipeline"
)

func message(runID string, stage pipeline.Stage) coordinator.Message {
	return coordinator.NewMessage("ecommerce", stage, runID)
}

func TestQueue_FIFOAndAck(t *testing.T) {
	t.Parallel()

	q := filequeue.New(t.TempDir())
	ctx := context.Background()

	first := message("run-1", pipeline.StageBronze)
	second := message("run-2", pipeline.StageBronze)
	// Distinct enqueue timestamps keep ordering deterministic.
	second.EnqueuedAt = first.EnqueuedAt.Add(time.Second)

	require.NoError(t, q.Enqueue(ctx, first))
	require.NoError(t, q.Enqueue(ctx, second))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, first.ID, got.ID, "oldest message comes out first")
	require.Equal(t, 1, got.Deliveries)

	require.NoError(t, q.Ack(ctx, got.ID))

	got, err = q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, second.ID, got.ID)
	require.NoError(t, q.Ack(ctx, got.ID))

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, coordinator.ErrQueueEmpty)
}

func TestQueue_LeaseHidesMessage(t *testing.T) {
	t.Parallel()

	q := filequeue.New(t.TempDir())
	ctx := context.Background()

	msg := message("run-1", pipeline.StageSilver)
	require.NoError(t, q.Enqueue(ctx, msg))

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)

	// The message is leased: a second consumer sees an empty queue.
	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, coordinator.ErrQueueEmpty)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n, "leased messages still count as active")
}

func TestQueue_ExpiredLeaseRedelivers(t *testing.T) {
	t.Parallel()

	q := filequeue.New(t.TempDir(), filequeue.WithVisibilityTimeout(10*time.Millisecond))
	ctx := context.Background()

	msg := message("run-1", pipeline.StageBronze)
	require.NoError(t, q.Enqueue(ctx, msg))

	got, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, got.Deliveries)

	time.Sleep(20 * time.Millisecond)

	got, err = q.Dequeue(ctx)
	require.NoError(t, err, "expired lease makes the message visible again")
	require.Equal(t, msg.ID, got.ID)
	require.Equal(t, 2, got.Deliveries, "redelivery increments the count")
}

func TestQueue_DeadLetter(t *testing.T) {
	t.Parallel()

	q := filequeue.New(t.TempDir(), filequeue.WithVisibilityTimeout(time.Millisecond))
	ctx := context.Background()

	msg := message("run-1", pipeline.StageGold)
	require.NoError(t, q.Enqueue(ctx, msg))

	_, err := q.Dequeue(ctx)
	require.NoError(t, err)
	require.NoError(t, q.DeadLetter(ctx, msg.ID))

	_, err = q.Dequeue(ctx)
	require.ErrorIs(t, err, coordinator.ErrQueueEmpty, "dead letters leave the active queue")

	dead, err := q.DeadLetters(ctx)
	require.NoError(t, err)
	require.Len(t, dead, 1)
	require.Equal(t, msg.ID, dead[0].ID)
	require.Equal(t, "run-1", dead[0].RunID)
}

func TestQueue_AckUnknownMessage(t *testing.T) {
	t.Parallel()

	q := filequeue.New(t.TempDir())
	require.Error(t, q.Ack(context.Background(), "no-such-id"))
}
