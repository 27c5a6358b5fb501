package coordinator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/pipeline"
)

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		from coordinator.RunState
		next coordinator.RunState
		want bool
	}{
		{"scheduled to bronze", coordinator.StateScheduled, coordinator.StateBronzeRunning, true},
		{"bronze to silver", coordinator.StateBronzeRunning, coordinator.StateSilverRunning, true},
		{"silver to gold", coordinator.StateSilverRunning, coordinator.StateGoldRunning, true},
		{"gold to completed", coordinator.StateGoldRunning, coordinator.StateCompleted, true},
		{"any to failed", coordinator.StateSilverRunning, coordinator.StateFailed, true},
		{"redelivery re-enters running", coordinator.StateBronzeRunning, coordinator.StateBronzeRunning, true},
		{"skip a stage", coordinator.StateScheduled, coordinator.StateSilverRunning, false},
		{"backwards", coordinator.StateGoldRunning, coordinator.StateBronzeRunning, false},
		{"completed is terminal", coordinator.StateCompleted, coordinator.StateFailed, false},
		{"failed is terminal", coordinator.StateFailed, coordinator.StateBronzeRunning, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tc.want, coordinator.CanTransition(tc.from, tc.next))
		})
	}
}

func TestRunningState(t *testing.T) {
	t.Parallel()

	require.Equal(t, coordinator.StateBronzeRunning, coordinator.RunningState(pipeline.StageBronze))
	require.Equal(t, coordinator.StateSilverRunning, coordinator.RunningState(pipeline.StageSilver))
	require.Equal(t, coordinator.StateGoldRunning, coordinator.RunningState(pipeline.StageGold))
}

func TestFileRunStore(t *testing.T) {
	t.Parallel()

	store := coordinator.NewFileRunStore(t.TempDir())
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, coordinator.Run{ID: "run-1", Pipeline: "ecommerce"}))

	run, err := store.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, coordinator.StateScheduled, run.State)
	require.False(t, run.StartedAt.IsZero())

	require.NoError(t, store.Transition(ctx, "run-1", coordinator.StateBronzeRunning, ""))
	require.NoError(t, store.Transition(ctx, "run-1", coordinator.StateFailed, "extraction failed"))

	run, err = store.Get(ctx, "run-1")
	require.NoError(t, err)
	require.Equal(t, coordinator.StateFailed, run.State)
	require.Equal(t, "extraction failed", run.Reason)

	// Failed absorbs everything.
	err = store.Transition(ctx, "run-1", coordinator.StateSilverRunning, "")
	require.ErrorIs(t, err, coordinator.ErrBadTransition)

	_, err = store.Get(ctx, "missing")
	require.ErrorIs(t, err, coordinator.ErrRunNotFound)
}
