package executor

import (
	"context"
	"fmt"

	"github.com/stratapipe/strata/internal/contract"
	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
	"github.com/stratapipe/strata/internal/plan"
)

// outputRelation is the relation name custom quality rules address via the
// {table} placeholder when evaluated against a freshly built artifact.
const outputRelation = "output"

// runTransformation builds one node's output from upstream artifacts,
// enforces its contract inline and gates publication on the quality report.
// A gated output is never published.
func (e *Executor) runTransformation(ctx context.Context, task plan.Task) TaskResult {
	node, err := e.lookupNode(task)
	if err != nil {
		return failed(task, err)
	}

	inputs := make(map[string]string, len(node.Inputs))
	for _, in := range node.Inputs {
		path, err := e.cfg.Artifacts.Resolve(ctx, in.Stage, in.Path)
		if err != nil {
			return failed(task, fmt.Errorf("%w: resolving input %s of node %s: %v", engine.ErrTransformation, in.Alias, node.Name, err))
		}
		inputs[in.Alias] = path
	}

	contracts := make([]*contract.Contract, 0, len(node.QualityChecks))
	for _, ref := range node.QualityChecks {
		c, err := e.loadContract(ref)
		if err != nil {
			return failed(task, fmt.Errorf("%w: loading contract %s for node %s: %v", engine.ErrTransformation, ref, node.Name, err))
		}
		contracts = append(contracts, c)
	}

	dest := e.scratchPath(node.Stage, node.Name)

	var rows int64
	switch node.Kind {
	case pipeline.TransformScript:
		rows, err = e.cfg.Engine.Run(ctx, inputs, node.Command, dest)
	default:
		query := node.Query
		if len(contracts) > 0 {
			query, err = e.enforcedQuery(contracts[0], node, query)
			if err != nil {
				return failed(task, err)
			}
		}
		rows, err = e.cfg.Engine.Transform(ctx, inputs, query, dest)
	}
	if err != nil {
		return failed(task, fmt.Errorf("%w: %v", engine.ErrTransformation, err))
	}

	tr := TaskResult{Task: task, Status: StatusSuccess, Rows: rows}
	for _, c := range contracts {
		report := e.evaluate(ctx, c, dest)
		tr.Reports = append(tr.Reports, *report)
		for _, w := range report.Warnings() {
			logger.Warn(ctx, "Quality rule warning",
				tag.Node(node.Name),
				tag.Contract(c.Dataset),
				tag.Rule(w.Name),
				tag.Error(w.Message))
		}
		if err := contract.Gate(report); err != nil {
			tr.Status = StatusFailed
			tr.Error = err.Error()
			return tr
		}
	}

	uri, err := e.cfg.Artifacts.Publish(ctx, dest, node.Stage, node.Name)
	if err != nil {
		return failed(task, fmt.Errorf("%w: publishing node %s: %v", engine.ErrTransformation, node.Name, err))
	}
	tr.Artifact = uri
	return tr
}

// enforcedQuery wraps the node query with contract-derived filters, data
// protection, and the node's dedupe directive. Only the node's first
// contract drives inline enforcement; additional contracts participate in
// the quality gate only.
func (e *Executor) enforcedQuery(c *contract.Contract, node *pipeline.Node, query string) (string, error) {
	orderBy := ""
	if node.Dedupe != nil {
		orderBy = node.Dedupe.OrderBy
	}
	enf, err := contract.GenerateEnforcement(c, orderBy)
	if err != nil {
		return "", fmt.Errorf("%w: generating enforcement for node %s: %v", engine.ErrTransformation, node.Name, err)
	}
	if node.Dedupe != nil {
		enf.UniqueKeys = mergeKeys(enf.UniqueKeys, node.Dedupe.Keys)
		enf.OrderBy = node.Dedupe.OrderBy
	}
	return enf.WrapQuery(query), nil
}

func (e *Executor) evaluate(ctx context.Context, c *contract.Contract, artifactPath string) *contract.ValidationReport {
	q := querierFunc(func(ctx context.Context, query string) (int64, error) {
		return e.cfg.Engine.Count(ctx, map[string]string{outputRelation: artifactPath}, query)
	})
	return contract.Evaluate(ctx, c, outputRelation, q)
}

type querierFunc func(ctx context.Context, query string) (int64, error)

func (f querierFunc) Count(ctx context.Context, query string) (int64, error) {
	return f(ctx, query)
}

func (e *Executor) lookupNode(task plan.Task) (*pipeline.Node, error) {
	for i := range e.cfg.Pipeline.Nodes {
		if e.cfg.Pipeline.Nodes[i].Name == task.Node {
			return &e.cfg.Pipeline.Nodes[i], nil
		}
	}
	return nil, fmt.Errorf("%w: task %s references unknown node %s", engine.ErrTransformation, task.ID, task.Node)
}

func mergeKeys(base, extra []string) []string {
	seen := make(map[string]struct{}, len(base))
	out := append([]string(nil), base...)
	for _, k := range base {
		seen[k] = struct{}{}
	}
	for _, k := range extra {
		if _, ok := seen[k]; !ok {
			seen[k] = struct{}{}
			out = append(out, k)
		}
	}
	return out
}
