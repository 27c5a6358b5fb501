// Package executor runs one stage of an execution plan: extractions gated
// by checkpoints, transformations gated by contracts. Tasks run
// sequentially in plan order and the stage fails fast on the first task
// error.
package executor

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/stratapipe/strata/internal/artifact"
	"github.com/stratapipe/strata/internal/checkpoint"
	"github.com/stratapipe/strata/internal/contract"
	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
	"github.com/stratapipe/strata/internal/plan"
	"github.com/stratapipe/strata/internal/secrets"
)

// DefaultTaskTimeout bounds a single extraction or transformation call.
const DefaultTaskTimeout = 30 * time.Minute

// TaskStatus is the outcome of one plan task.
type TaskStatus string

const (
	StatusSuccess TaskStatus = "success"
	StatusFailed  TaskStatus = "failed"
	// StatusSkipped marks an extraction skipped because its checkpoint
	// state was unreadable. Sibling tasks still run.
	StatusSkipped TaskStatus = "skipped"
	// StatusAborted marks tasks not executed because an earlier task of
	// the stage failed.
	StatusAborted TaskStatus = "aborted"
)

// TaskResult reports one task's outcome.
type TaskResult struct {
	Task     plan.Task                   `json:"task"`
	Status   TaskStatus                  `json:"status"`
	Rows     int64                       `json:"rows,omitempty"`
	Artifact string                      `json:"artifact,omitempty"`
	Error    string                      `json:"error,omitempty"`
	Reports  []contract.ValidationReport `json:"reports,omitempty"`
	Duration time.Duration               `json:"duration"`
}

// StageResult enumerates the outcome of every task of a stage run.
type StageResult struct {
	Pipeline string         `json:"pipeline"`
	Stage    pipeline.Stage `json:"stage"`
	RunID    string         `json:"run_id,omitempty"`
	Tasks    []TaskResult   `json:"tasks"`
}

// Failed reports whether any task failed.
func (r *StageResult) Failed() bool {
	for _, t := range r.Tasks {
		if t.Status == StatusFailed {
			return true
		}
	}
	return false
}

// Config wires the executor's collaborators.
type Config struct {
	Pipeline    *pipeline.Pipeline
	Plan        *plan.ExecutionPlan
	Checkpoints checkpoint.Store
	Artifacts   artifact.Store
	Engine      engine.Engine
	Secrets     *secrets.Registry
	WorkDir     string
	TaskTimeout time.Duration
}

// Executor executes stage task sets.
type Executor struct {
	cfg       Config
	contracts map[string]*contract.Contract
}

func New(cfg Config) *Executor {
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = DefaultTaskTimeout
	}
	if cfg.Secrets == nil {
		cfg.Secrets = secrets.NewRegistry()
	}
	return &Executor{
		cfg:       cfg,
		contracts: make(map[string]*contract.Contract),
	}
}

// ExecuteStage runs the plan's tasks for one stage. The first failing task
// aborts the rest of the stage; artifacts already published within the
// stage remain valid and are not rolled back. The returned error is non-nil
// iff the stage failed.
func (e *Executor) ExecuteStage(ctx context.Context, stage pipeline.Stage, runID string) (*StageResult, error) {
	result := &StageResult{
		Pipeline: e.cfg.Pipeline.Name,
		Stage:    stage,
		RunID:    runID,
	}

	tasks := e.cfg.Plan.StageTasks(stage)
	logger.Info(ctx, "Executing stage",
		tag.Stage(string(stage)),
		tag.RunID(runID),
		tag.String("tasks", fmt.Sprintf("%d", len(tasks))))

	var stageErr error
	for i, task := range tasks {
		if stageErr != nil || ctx.Err() != nil {
			result.Tasks = append(result.Tasks, TaskResult{Task: task, Status: StatusAborted})
			continue
		}

		started := time.Now()
		taskCtx, cancel := context.WithTimeout(ctx, e.cfg.TaskTimeout)
		tr := e.runTask(taskCtx, task)
		cancel()
		tr.Duration = time.Since(started)
		result.Tasks = append(result.Tasks, tr)

		switch tr.Status {
		case StatusFailed:
			logger.Error(ctx, "Task failed, aborting remaining stage tasks",
				tag.Task(task.ID),
				tag.String("remaining", fmt.Sprintf("%d", len(tasks)-i-1)),
				tag.Error(tr.Error))
			stageErr = fmt.Errorf("task %s failed: %s", task.ID, tr.Error)
		case StatusSkipped:
			logger.Warn(ctx, "Task skipped", tag.Task(task.ID), tag.Error(tr.Error))
		default:
			logger.Info(ctx, "Task completed",
				tag.Task(task.ID),
				tag.Rows(tr.Rows),
				tag.Duration(tr.Duration))
		}
	}

	return result, stageErr
}

func (e *Executor) runTask(ctx context.Context, task plan.Task) TaskResult {
	switch task.Kind {
	case plan.TaskExtract:
		return e.runExtraction(ctx, task)
	case plan.TaskTransform:
		return e.runTransformation(ctx, task)
	default:
		return TaskResult{
			Task:   task,
			Status: StatusFailed,
			Error:  fmt.Sprintf("unknown task kind %q", task.Kind),
		}
	}
}

func (e *Executor) scratchPath(stage pipeline.Stage, name string) string {
	dir := filepath.Join(e.cfg.WorkDir, string(stage))
	_ = fileutil.EnsureDir(dir)
	return filepath.Join(dir, fileutil.SafeName(name)+".parquet")
}

func failed(task plan.Task, err error) TaskResult {
	return TaskResult{Task: task, Status: StatusFailed, Error: err.Error()}
}

// loadContract resolves a quality check reference ("contract:<name>" or a
// bare contract name) against the pipeline's contracts directory.
func (e *Executor) loadContract(ref string) (*contract.Contract, error) {
	name := ref
	if after, ok := strings.CutPrefix(ref, "contract:"); ok {
		name = after
	}
	if c, ok := e.contracts[name]; ok {
		return c, nil
	}
	c, err := contract.Load(filepath.Join(e.cfg.Pipeline.ContractsDir, name+".yaml"))
	if err != nil {
		return nil, err
	}
	e.contracts[name] = c
	return c, nil
}

// checkpointUnreadable reports whether the error is corrupt checkpoint state.
func checkpointUnreadable(err error) bool {
	return errors.Is(err, checkpoint.ErrCheckpoint)
}
