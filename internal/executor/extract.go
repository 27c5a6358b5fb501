package executor

import (
	"context"
	"fmt"

	"github.com/stratapipe/strata/internal/connector"
	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
	"github.com/stratapipe/strata/internal/plan"
)

// runExtraction pulls one source table into the bronze layer. Incremental
// tables read their last watermark first and advance it only after the
// extracted artifact is durably published, so a crash between the two
// re-extracts the same window on the next run.
func (e *Executor) runExtraction(ctx context.Context, task plan.Task) TaskResult {
	src, tbl, err := e.lookupTable(task)
	if err != nil {
		return failed(task, err)
	}

	conn, err := connector.Resolve(src.Kind)
	if err != nil {
		return failed(task, err)
	}

	last := ""
	if tbl.IncrementalColumn != "" && src.CheckpointKey != "" {
		entry, err := e.cfg.Checkpoints.Get(ctx, src.CheckpointKey, tbl.Name)
		if checkpointUnreadable(err) {
			// Corrupt state skips this table only. Siblings still run.
			return TaskResult{Task: task, Status: StatusSkipped, Error: err.Error()}
		}
		if err != nil {
			return failed(task, fmt.Errorf("%w: reading checkpoint for %s: %v", engine.ErrExtraction, task.ID, err))
		}
		if entry != nil {
			last = entry.Value
		}
	}

	dsn, err := e.cfg.Secrets.Resolve(ctx, src.Connection)
	if err != nil {
		return failed(task, fmt.Errorf("%w: resolving connection for source %s: %v", engine.ErrExtraction, src.Name, err))
	}

	query := connector.BuildQuery(*tbl, last)
	dest := e.scratchPath(pipeline.StageBronze, src.Name+"_"+tbl.Name)

	logger.Debug(ctx, "Extracting table",
		tag.Source(src.Name),
		tag.Table(tbl.Name),
		tag.Watermark(last))

	res, err := e.cfg.Engine.Extract(ctx, conn.Attachment(dsn), query, tbl.IncrementalColumn, dest)
	if err != nil {
		return failed(task, fmt.Errorf("%w: %v", engine.ErrExtraction, err))
	}

	uri, err := e.cfg.Artifacts.Publish(ctx, dest, pipeline.StageBronze, src.Name+"/"+tbl.Name)
	if err != nil {
		return failed(task, fmt.Errorf("%w: publishing %s: %v", engine.ErrExtraction, task.ID, err))
	}

	// Advance only after the artifact is durable. An empty watermark means
	// the window had no rows and the checkpoint stays put.
	if src.CheckpointKey != "" && tbl.IncrementalColumn != "" && res.MaxWatermark != "" {
		if err := e.cfg.Checkpoints.Advance(ctx, src.CheckpointKey, tbl.Name, res.MaxWatermark); err != nil {
			return failed(task, fmt.Errorf("%w: advancing checkpoint for %s: %v", engine.ErrExtraction, task.ID, err))
		}
		logger.Info(ctx, "Checkpoint advanced",
			tag.CheckpointKey(src.CheckpointKey),
			tag.Table(tbl.Name),
			tag.Watermark(res.MaxWatermark))
	}

	return TaskResult{Task: task, Status: StatusSuccess, Rows: res.Rows, Artifact: uri}
}

func (e *Executor) lookupTable(task plan.Task) (*pipeline.Source, *pipeline.Table, error) {
	for i := range e.cfg.Pipeline.Sources {
		src := &e.cfg.Pipeline.Sources[i]
		if src.Name != task.Source {
			continue
		}
		for j := range src.Tables {
			if src.Tables[j].Name == task.Table {
				return src, &src.Tables[j], nil
			}
		}
	}
	return nil, nil, fmt.Errorf("%w: task %s references unknown table %s.%s", engine.ErrExtraction, task.ID, task.Source, task.Table)
}
