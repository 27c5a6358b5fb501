package pipeline_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/pipeline"
)

const validDefinition = `
name: shop_analytics
schedule: "0 2 * * *"
contracts_path: contracts
sources:
  - name: shop
    type: postgres
    connection: env://SHOP_DSN
    checkpoint_key: shop
    tables:
      - name: orders
        query: SELECT * FROM orders
        incremental_column: updated_at
      - name: customers
        query: SELECT * FROM customers
transformations:
  gold:
    - name: daily_sales
      query: SELECT order_date, SUM(amount) AS total FROM clean GROUP BY order_date
      inputs:
        - alias: clean
          stage: silver
          source_path: orders_clean
  silver:
    - name: orders_clean
      query: SELECT * FROM orders
      quality_checks:
        - contract:orders_clean
      dedupe:
        keys: [order_id]
        order_by: updated_at
      inputs:
        - alias: orders
          stage: bronze
          source_path: shop/orders
`

func TestLoadData(t *testing.T) {
	t.Parallel()

	p, err := pipeline.LoadData([]byte(validDefinition))
	require.NoError(t, err)

	require.Equal(t, "shop_analytics", p.Name)
	require.Equal(t, "0 2 * * *", p.Schedule)
	require.Equal(t, "contracts", p.ContractsDir)

	require.Len(t, p.Sources, 1)
	src := p.Sources[0]
	require.Equal(t, pipeline.ConnectorPostgres, src.Kind)
	require.Equal(t, "shop", src.CheckpointKey)
	require.Len(t, src.Tables, 2)
	require.Equal(t, "updated_at", src.Tables[0].IncrementalColumn)
	require.Empty(t, src.Tables[1].IncrementalColumn)

	// Silver nodes come before gold regardless of YAML key order.
	require.Len(t, p.Nodes, 2)
	require.Equal(t, "orders_clean", p.Nodes[0].Name)
	require.Equal(t, pipeline.StageSilver, p.Nodes[0].Stage)
	require.Equal(t, "daily_sales", p.Nodes[1].Name)
	require.Equal(t, pipeline.StageGold, p.Nodes[1].Stage)

	clean := p.Nodes[0]
	require.Equal(t, pipeline.TransformSQL, clean.Kind)
	require.Equal(t, []string{"contract:orders_clean"}, clean.QualityChecks)
	require.NotNil(t, clean.Dedupe)
	require.Equal(t, []string{"order_id"}, clean.Dedupe.Keys)
	require.Equal(t, "updated_at", clean.Dedupe.OrderBy)
	require.Equal(t, pipeline.Input{Alias: "orders", Stage: pipeline.StageBronze, Path: "shop/orders"}, clean.Inputs[0])
}

func TestLoadData_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "MissingName",
			yaml: `
sources:
  - name: shop
    type: postgres
    connection: env://DSN
    tables:
      - name: orders
        query: SELECT 1
`,
			want: "name is required",
		},
		{
			name: "UnknownConnector",
			yaml: `
name: p
sources:
  - name: shop
    type: oracle
    connection: env://DSN
    tables:
      - name: orders
        query: SELECT 1
`,
			want: `unknown connector type "oracle"`,
		},
		{
			name: "IncrementalWithoutCheckpointKey",
			yaml: `
name: p
sources:
  - name: shop
    type: postgres
    connection: env://DSN
    tables:
      - name: orders
        query: SELECT 1
        incremental_column: updated_at
`,
			want: "no checkpoint_key",
		},
		{
			name: "DuplicateSource",
			yaml: `
name: p
sources:
  - name: shop
    type: postgres
    connection: env://DSN
    tables:
      - name: orders
        query: SELECT 1
  - name: shop
    type: postgres
    connection: env://DSN
    tables:
      - name: customers
        query: SELECT 1
`,
			want: `duplicate source name "shop"`,
		},
		{
			name: "UnknownStage",
			yaml: `
name: p
transformations:
  platinum:
    - name: x
      query: SELECT 1
      inputs:
        - alias: a
          stage: gold
          source_path: y
`,
			want: `unknown stage "platinum"`,
		},
		{
			name: "ScriptWithoutCommand",
			yaml: `
name: p
transformations:
  silver:
    - name: x
      type: script
      inputs:
        - alias: a
          stage: bronze
          source_path: shop/orders
`,
			want: "requires a command",
		},
		{
			name: "NodeWithoutInputs",
			yaml: `
name: p
transformations:
  silver:
    - name: x
      query: SELECT 1
`,
			want: "declares no inputs",
		},
		{
			name: "BadInputStage",
			yaml: `
name: p
transformations:
  silver:
    - name: x
      query: SELECT 1
      inputs:
        - alias: a
          stage: copper
          source_path: shop/orders
`,
			want: `unknown stage "copper"`,
		},
		{
			name: "DedupeWithoutOrderBy",
			yaml: `
name: p
transformations:
  silver:
    - name: x
      query: SELECT 1
      dedupe:
        keys: [id]
      inputs:
        - alias: a
          stage: bronze
          source_path: shop/orders
`,
			want: "dedupe requires order_by",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := pipeline.LoadData([]byte(tc.yaml))
			require.ErrorIs(t, err, pipeline.ErrInvalidDefinition)
			require.ErrorContains(t, err, tc.want)
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	t.Parallel()

	_, err := pipeline.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.ErrorContains(t, err, "not found")
}

func TestParseStage(t *testing.T) {
	t.Parallel()

	for _, s := range pipeline.Stages {
		got, err := pipeline.ParseStage(string(s))
		require.NoError(t, err)
		require.Equal(t, s, got)
	}
	_, err := pipeline.ParseStage("copper")
	require.Error(t, err)

	next, ok := pipeline.StageBronze.Next()
	require.True(t, ok)
	require.Equal(t, pipeline.StageSilver, next)
	_, ok = pipeline.StageGold.Next()
	require.False(t, ok)
	require.True(t, pipeline.StageBronze.Before(pipeline.StageGold))
}
