package plan

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stratapipe/strata/internal/pipeline"
)

// Planning errors. All are fatal and reported before any execution; planning
// never partially succeeds.
var (
	ErrPlanning        = errors.New("planning failed")
	ErrUnresolvedInput = fmt.Errorf("%w: unresolved input", ErrPlanning)
	ErrStageOrder      = fmt.Errorf("%w: invalid stage dependency", ErrPlanning)
	ErrCycleDetected   = fmt.Errorf("%w: cycle detected", ErrPlanning)
)

// Plan resolves every transformation input to its producing task, validates
// stage ordering and acyclicity, and returns the deterministic execution
// plan. It is a pure function of the pipeline configuration.
func Plan(p *pipeline.Pipeline) (*ExecutionPlan, error) {
	// Tasks in declaration order: extractions first, then nodes stage by stage.
	var tasks []Task
	producers := make(map[string]int) // output path -> task index

	for _, src := range p.Sources {
		for _, tbl := range src.Tables {
			idx := len(tasks)
			tasks = append(tasks, Task{
				ID:     ExtractTaskID(src.Name, tbl.Name),
				Kind:   TaskExtract,
				Stage:  pipeline.StageBronze,
				Source: src.Name,
				Table:  tbl.Name,
			})
			producers[producerKey(pipeline.StageBronze, src.Name+"/"+tbl.Name)] = idx
		}
	}
	for _, node := range p.Nodes {
		idx := len(tasks)
		tasks = append(tasks, Task{
			ID:    TransformTaskID(node.Name),
			Kind:  TaskTransform,
			Stage: node.Stage,
			Node:  node.Name,
		})
		producers[producerKey(node.Stage, node.Name)] = idx
	}

	graph := newDepGraph(len(tasks))
	taskIdx := make(map[string]int, len(tasks))
	for i, t := range tasks {
		taskIdx[t.ID] = i
	}

	for _, node := range p.Nodes {
		consumer := taskIdx[TransformTaskID(node.Name)]
		for _, in := range node.Inputs {
			producer, ok := producers[producerKey(in.Stage, in.Path)]
			if !ok {
				return nil, fmt.Errorf("%w: transformation %q alias %q does not resolve to any %s output %q",
					ErrUnresolvedInput, node.Name, in.Alias, in.Stage, in.Path)
			}
			if !tasks[producer].Stage.Before(node.Stage) {
				return nil, fmt.Errorf("%w: transformation %q (%s) depends on %q (%s)",
					ErrStageOrder, node.Name, node.Stage, tasks[producer].ID, tasks[producer].Stage)
			}
			graph.addEdge(producer, consumer)
		}
	}

	order, ok := graph.topoSort()
	if !ok {
		var names []string
		for _, i := range graph.cycleMembers() {
			names = append(names, tasks[i].ID)
		}
		return nil, fmt.Errorf("%w: involving %s", ErrCycleDetected, strings.Join(names, ", "))
	}

	// Group the topological order by stage so the plan carries explicit
	// stage boundaries. Cross-stage edges always point forward, so grouping
	// preserves the partial order.
	ordered := make([]Task, 0, len(tasks))
	for _, stage := range pipeline.Stages {
		for _, i := range order {
			if tasks[i].Stage == stage {
				ordered = append(ordered, tasks[i])
			}
		}
	}

	return &ExecutionPlan{
		Pipeline: p.Name,
		Tasks:    ordered,
	}, nil
}

func producerKey(stage pipeline.Stage, path string) string {
	return string(stage) + ":" + path
}
