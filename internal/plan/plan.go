// Package plan builds a dependency graph over extraction and transformation
// tasks and produces a deterministic execution plan per stage.
package plan

import (
	"encoding/json"
	"fmt"

	"github.com/stratapipe/strata/internal/pipeline"
)

// TaskKind discriminates extraction tasks from transformation tasks.
type TaskKind string

const (
	TaskExtract   TaskKind = "extract"
	TaskTransform TaskKind = "transform"
)

// Task is one entry of an execution plan.
type Task struct {
	ID    string         `json:"id"`
	Kind  TaskKind       `json:"kind"`
	Stage pipeline.Stage `json:"stage"`

	// Extraction tasks.
	Source string `json:"source,omitempty"`
	Table  string `json:"table,omitempty"`

	// Transformation tasks.
	Node string `json:"node,omitempty"`
}

// ExtractTaskID returns the plan task id for a source table extraction.
func ExtractTaskID(source, table string) string {
	return fmt.Sprintf("extract:%s/%s", source, table)
}

// TransformTaskID returns the plan task id for a transformation node.
func TransformTaskID(node string) string {
	return fmt.Sprintf("transform:%s", node)
}

// ExecutionPlan is an ordered list of tasks satisfying the dependency
// graph's partial order, annotated with stage boundaries. Planning the same
// configuration twice yields an identical plan.
type ExecutionPlan struct {
	Pipeline string `json:"pipeline"`
	Tasks    []Task `json:"tasks"`
}

// StageTasks returns the plan's tasks for one stage, in plan order.
func (p *ExecutionPlan) StageTasks(stage pipeline.Stage) []Task {
	var tasks []Task
	for _, t := range p.Tasks {
		if t.Stage == stage {
			tasks = append(tasks, t)
		}
	}
	return tasks
}

// Encode serializes the plan as indented JSON, the format shown by the
// dry-run command and persisted alongside a run.
func (p *ExecutionPlan) Encode() ([]byte, error) {
	data, err := json.MarshalIndent(p, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode execution plan: %w", err)
	}
	return data, nil
}

// Decode deserializes a plan previously produced by Encode.
func Decode(data []byte) (*ExecutionPlan, error) {
	var p ExecutionPlan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to decode execution plan: %w", err)
	}
	return &p, nil
}
