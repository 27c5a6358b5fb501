package executor_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/artifact"
	"github.com/stratapipe/strata/internal/checkpoint"
	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/executor"
	"github.com/stratapipe/strata/internal/persistence/filecheckpoint"
	"github.com/stratapipe/strata/internal/pipeline"
	"github.com/stratapipe/strata/internal/plan"
	"github.com/stratapipe/strata/internal/secrets"
)

const ordersClean = `
version: 1.0.0
dataset: orders_clean
stage: silver
schema:
  columns:
    - name: order_id
      type: bigint
      nullable: false
      constraints:
        - type: unique
    - name: amount
      type: double
      nullable: true
quality_rules:
  - name: unique_order_id
    type: unique
    column: order_id
    severity: error
  - name: some_rows
    type: min_row_count
    expected: 1
    severity: warning
`

// fakeEngine records queries and serves canned results. Count answers by
// query substring the way the analytical engine would answer real scalar
// queries.
type fakeEngine struct {
	mu         sync.Mutex
	extracts   []string
	transforms []string
	watermarks map[string]string // query substring -> max watermark
	counts     map[string]int64  // query substring -> count
	failOn     string            // query substring that errors
}

func (f *fakeEngine) Extract(_ context.Context, _ engine.Attachment, query, _, destination string) (*engine.ExtractResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.extracts = append(f.extracts, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return nil, errors.New("connection refused")
	}
	if err := os.WriteFile(destination, []byte(query), 0600); err != nil {
		return nil, err
	}
	res := &engine.ExtractResult{Rows: 3}
	for sub, wm := range f.watermarks {
		if strings.Contains(query, sub) {
			res.MaxWatermark = wm
		}
	}
	return res, nil
}

func (f *fakeEngine) Transform(_ context.Context, inputs map[string]string, query, destination string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transforms = append(f.transforms, query)
	if f.failOn != "" && strings.Contains(query, f.failOn) {
		return 0, errors.New("binder error")
	}
	for _, in := range inputs {
		if _, err := os.Stat(in); err != nil {
			return 0, fmt.Errorf("missing input %s", in)
		}
	}
	if err := os.WriteFile(destination, []byte(query), 0600); err != nil {
		return 0, err
	}
	return 5, nil
}

func (f *fakeEngine) Count(_ context.Context, _ map[string]string, query string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for sub, n := range f.counts {
		if strings.Contains(query, sub) {
			return n, nil
		}
	}
	return 0, nil
}

func (f *fakeEngine) Run(_ context.Context, _ map[string]string, command, destination string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transforms = append(f.transforms, command)
	if err := os.WriteFile(destination, []byte(command), 0600); err != nil {
		return 0, err
	}
	return 2, nil
}

type harness struct {
	exec          *executor.Executor
	eng           *fakeEngine
	checkpoints   checkpoint.Store
	checkpointDir string
	artifacts     artifact.Store
	pl            *pipeline.Pipeline
}

func setup(t *testing.T, eng *fakeEngine) *harness {
	t.Helper()
	base := t.TempDir()
	contractsDir := filepath.Join(base, "contracts")
	require.NoError(t, os.MkdirAll(contractsDir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(contractsDir, "orders_clean.yaml"), []byte(ordersClean), 0600))

	pl := &pipeline.Pipeline{
		Name:         "ecommerce",
		ContractsDir: contractsDir,
		Sources: []pipeline.Source{
			{
				Name:          "shop",
				Kind:          pipeline.ConnectorPostgres,
				Connection:    "postgres://shop.internal/app",
				CheckpointKey: "shop",
				Tables: []pipeline.Table{
					{Name: "orders", Query: "SELECT * FROM orders", IncrementalColumn: "updated_at"},
					{Name: "customers", Query: "SELECT * FROM customers"},
				},
			},
		},
		Nodes: []pipeline.Node{
			{
				Name:  "orders_clean",
				Stage: pipeline.StageSilver,
				Kind:  pipeline.TransformSQL,
				Query: "SELECT order_id, amount FROM orders",
				Inputs: []pipeline.Input{
					{Alias: "orders", Stage: pipeline.StageBronze, Path: "shop/orders"},
				},
				QualityChecks: []string{"contract:orders_clean"},
				Dedupe:        &pipeline.Dedupe{Keys: []string{"order_id"}, OrderBy: "updated_at"},
			},
			{
				Name:  "daily_sales",
				Stage: pipeline.StageGold,
				Kind:  pipeline.TransformSQL,
				Query: "SELECT date, SUM(amount) FROM orders_clean GROUP BY date",
				Inputs: []pipeline.Input{
					{Alias: "orders_clean", Stage: pipeline.StageSilver, Path: "orders_clean"},
				},
			},
		},
	}

	execPlan, err := plan.Plan(pl)
	require.NoError(t, err, "plan must build")

	checkpointDir := filepath.Join(base, "checkpoints")
	checkpoints := filecheckpoint.New(checkpointDir)
	artifacts := artifact.NewLocalStore(filepath.Join(base, "artifacts"))
	ex := executor.New(executor.Config{
		Pipeline:    pl,
		Plan:        execPlan,
		Checkpoints: checkpoints,
		Artifacts:   artifacts,
		Engine:      eng,
		Secrets:     secrets.NewRegistry(),
		WorkDir:     filepath.Join(base, "work"),
	})
	return &harness{
		exec:          ex,
		eng:           eng,
		checkpoints:   checkpoints,
		checkpointDir: checkpointDir,
		artifacts:     artifacts,
		pl:            pl,
	}
}

func TestExecuteStage_BronzeAdvancesCheckpointAfterPublish(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{watermarks: map[string]string{"FROM orders": "2026-03-01T00:00:00Z"}}
	h := setup(t, eng)
	ctx := context.Background()

	result, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err, "bronze stage must succeed")
	require.Len(t, result.Tasks, 2)
	require.False(t, result.Failed())
	for _, tr := range result.Tasks {
		require.Equal(t, executor.StatusSuccess, tr.Status)
		require.NotEmpty(t, tr.Artifact, "every extraction publishes an artifact")
	}

	// The incremental table advanced, the full-load table did not.
	entry, err := h.checkpoints.Get(ctx, "shop", "orders")
	require.NoError(t, err)
	require.NotNil(t, entry)
	require.Equal(t, "2026-03-01T00:00:00Z", entry.Value)

	entry, err = h.checkpoints.Get(ctx, "shop", "customers")
	require.NoError(t, err)
	require.Nil(t, entry, "full-load tables keep no checkpoint")

	_, err = h.artifacts.Resolve(ctx, pipeline.StageBronze, "shop/orders")
	require.NoError(t, err, "published artifact must resolve")
}

func TestExecuteStage_SecondRunUsesRecordedWatermark(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{watermarks: map[string]string{"FROM orders": "100"}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	_, err = h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-2")
	require.NoError(t, err)

	require.Len(t, eng.extracts, 4)
	require.NotContains(t, eng.extracts[0], "updated_at >", "first run is a full window")
	var second string
	for _, q := range eng.extracts[2:] {
		if strings.Contains(q, "FROM orders") {
			second = q
		}
	}
	require.Contains(t, second, "updated_at > '100'", "second run filters on the recorded watermark")
}

func TestExecuteStage_EmptyWindowLeavesCheckpoint(t *testing.T) {
	t.Parallel()

	// No watermark configured: extraction returns rows but no max value,
	// as when the incremental window matched nothing.
	eng := &fakeEngine{}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)

	entry, err := h.checkpoints.Get(ctx, "shop", "orders")
	require.NoError(t, err)
	require.Nil(t, entry, "empty windows must not move the watermark")
}

func TestExecuteStage_CorruptCheckpointSkipsTableOnly(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h := setup(t, eng)
	ctx := context.Background()

	// Seed then corrupt the orders checkpoint on disk.
	require.NoError(t, h.checkpoints.Advance(ctx, "shop", "orders", "50"))
	require.NoError(t, os.WriteFile(filepath.Join(h.checkpointDir, "shop.orders.json"), []byte("{no json"), 0600))

	result, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err, "a skipped table must not fail the stage")

	byID := resultsByID(result)
	require.Equal(t, executor.StatusSkipped, byID["extract:shop/orders"].Status)
	require.Contains(t, byID["extract:shop/orders"].Error, "checkpoint")
	require.Equal(t, executor.StatusSuccess, byID["extract:shop/customers"].Status, "siblings still run")
}

func TestExecuteStage_FailFastAbortsRemaining(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{failOn: "FROM orders"}
	h := setup(t, eng)
	ctx := context.Background()

	result, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.Error(t, err)
	require.True(t, result.Failed())

	byID := resultsByID(result)
	require.Equal(t, executor.StatusFailed, byID["extract:shop/orders"].Status)
	require.Equal(t, executor.StatusAborted, byID["extract:shop/customers"].Status)

	_, err = h.artifacts.Resolve(ctx, pipeline.StageBronze, "shop/customers")
	require.ErrorIs(t, err, artifact.ErrArtifactNotFound, "aborted tasks publish nothing")
}

func TestExecuteStage_SilverEnforcesContractInline(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{counts: map[string]int64{"SELECT COUNT(*) FROM output": 5}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	result, err := h.exec.ExecuteStage(ctx, pipeline.StageSilver, "run-1")
	require.NoError(t, err)

	require.Len(t, result.Tasks, 1)
	tr := result.Tasks[0]
	require.Equal(t, executor.StatusSuccess, tr.Status)
	require.Len(t, tr.Reports, 1)
	require.Empty(t, tr.Reports[0].Failures())

	require.Len(t, eng.transforms, 1)
	wrapped := eng.transforms[0]
	require.Contains(t, wrapped, "order_id IS NOT NULL", "non-nullable column becomes a filter")
	require.Contains(t, wrapped, "PARTITION BY order_id", "dedupe keys become a window")
	require.Contains(t, wrapped, "ORDER BY updated_at DESC", "dedupe keeps the latest row")
}

func TestExecuteStage_QualityGateBlocksPublication(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{counts: map[string]int64{
		"AS dups":                     2, // duplicate order ids
		"SELECT COUNT(*) FROM output": 5,
	}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	result, err := h.exec.ExecuteStage(ctx, pipeline.StageSilver, "run-1")
	require.Error(t, err)

	tr := result.Tasks[0]
	require.Equal(t, executor.StatusFailed, tr.Status)
	require.Contains(t, tr.Error, "unique_order_id")
	require.Len(t, tr.Reports, 1, "the report survives even when the gate fails")

	_, err = h.artifacts.Resolve(ctx, pipeline.StageSilver, "orders_clean")
	require.ErrorIs(t, err, artifact.ErrArtifactNotFound, "gated outputs are never published")
}

func TestExecuteStage_WarningDoesNotBlock(t *testing.T) {
	t.Parallel()

	// Zero rows fails the warning-severity min_row_count rule only.
	eng := &fakeEngine{counts: map[string]int64{"SELECT COUNT(*) FROM output": 0}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	result, err := h.exec.ExecuteStage(ctx, pipeline.StageSilver, "run-1")
	require.NoError(t, err, "warnings are recorded, not enforced")

	tr := result.Tasks[0]
	require.Equal(t, executor.StatusSuccess, tr.Status)
	require.Len(t, tr.Reports[0].Warnings(), 1)
	require.Equal(t, "some_rows", tr.Reports[0].Warnings()[0].Name)
}

func TestExecuteStage_GoldReadsSilverArtifacts(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{counts: map[string]int64{"SELECT COUNT(*) FROM output": 5}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	_, err = h.exec.ExecuteStage(ctx, pipeline.StageSilver, "run-1")
	require.NoError(t, err)
	result, err := h.exec.ExecuteStage(ctx, pipeline.StageGold, "run-1")
	require.NoError(t, err)

	require.Len(t, result.Tasks, 1)
	require.Equal(t, executor.StatusSuccess, result.Tasks[0].Status)
	require.Equal(t, int64(5), result.Tasks[0].Rows)

	_, err = h.artifacts.Resolve(ctx, pipeline.StageGold, "daily_sales")
	require.NoError(t, err)
}

func TestExecuteStage_MissingInputFailsTransformation(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{}
	h := setup(t, eng)

	// Silver without bronze: the input artifact does not exist yet.
	result, err := h.exec.ExecuteStage(context.Background(), pipeline.StageSilver, "run-1")
	require.Error(t, err)
	require.Equal(t, executor.StatusFailed, result.Tasks[0].Status)
	require.Contains(t, result.Tasks[0].Error, "shop/orders")
}

func TestExecuteStage_RerunOverwritesArtifacts(t *testing.T) {
	t.Parallel()

	eng := &fakeEngine{watermarks: map[string]string{"FROM orders": "10"}}
	h := setup(t, eng)
	ctx := context.Background()

	_, err := h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err)
	_, err = h.exec.ExecuteStage(ctx, pipeline.StageBronze, "run-1")
	require.NoError(t, err, "re-running a stage is idempotent")

	entry, err := h.checkpoints.Get(ctx, "shop", "orders")
	require.NoError(t, err)
	require.Equal(t, "10", entry.Value, "repeat watermark is a no-op advance")
}

func resultsByID(r *executor.StageResult) map[string]executor.TaskResult {
	out := make(map[string]executor.TaskResult, len(r.Tasks))
	for _, tr := range r.Tasks {
		out[tr.Task.ID] = tr
	}
	return out
}
