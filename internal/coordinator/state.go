package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stratapipe/strata/internal/pipeline"
)

// RunState is the coordinator-level status of one pipeline run.
type RunState string

const (
	StateScheduled     RunState = "scheduled"
	StateBronzeRunning RunState = "bronze_running"
	StateSilverRunning RunState = "silver_running"
	StateGoldRunning   RunState = "gold_running"
	StateCompleted     RunState = "completed"
	StateFailed        RunState = "failed"
)

var ErrRunNotFound = errors.New("run not found")

// Terminal reports whether the state absorbs all further transitions.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// RunningState maps a stage to its in-progress run state.
func RunningState(stage pipeline.Stage) RunState {
	switch stage {
	case pipeline.StageBronze:
		return StateBronzeRunning
	case pipeline.StageSilver:
		return StateSilverRunning
	default:
		return StateGoldRunning
	}
}

// allowed lists the forward edges of the run state machine. Failed is
// reachable from every non-terminal state and is handled separately.
var allowed = map[RunState]RunState{
	StateScheduled:     StateBronzeRunning,
	StateBronzeRunning: StateSilverRunning,
	StateSilverRunning: StateGoldRunning,
	StateGoldRunning:   StateCompleted,
}

// CanTransition reports whether from may move to next. Re-entering the same
// running state is allowed: queue redelivery re-runs a stage.
func CanTransition(from, next RunState) bool {
	if from.Terminal() {
		return false
	}
	if next == StateFailed || next == from {
		return true
	}
	return allowed[from] == next
}

// Run is the persisted record of one pipeline run.
type Run struct {
	ID        string    `json:"id"`
	Pipeline  string    `json:"pipeline"`
	State     RunState  `json:"state"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	// Reason carries the failure cause for StateFailed runs.
	Reason string `json:"reason,omitempty"`
}

// RunStore persists run records.
type RunStore interface {
	// Create registers a new run in StateScheduled.
	Create(ctx context.Context, run Run) error
	Get(ctx context.Context, runID string) (*Run, error)
	// Transition moves the run to next, enforcing the state machine.
	Transition(ctx context.Context, runID string, next RunState, reason string) error
}

// ErrBadTransition indicates a state machine violation.
var ErrBadTransition = errors.New("invalid run state transition")

func badTransition(from, next RunState) error {
	return fmt.Errorf("%w: %s -> %s", ErrBadTransition, from, next)
}
