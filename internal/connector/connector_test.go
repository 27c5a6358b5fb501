package connector_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/stratapipe/strata/internal/connector"
	"github.com/stratapipe/strata/internal/pipeline"
)

func TestResolve(t *testing.T) {
	t.Parallel()

	c, err := connector.Resolve(pipeline.ConnectorPostgres)
	require.NoError(t, err)
	require.Equal(t, "POSTGRES", c.AttachType)

	c, err = connector.Resolve(pipeline.ConnectorSAPB1)
	require.NoError(t, err)
	require.Equal(t, "ODBC", c.AttachType)

	_, err = connector.Resolve("mongodb")
	require.ErrorIs(t, err, connector.ErrUnknownConnector)
}

func TestBuildQuery(t *testing.T) {
	t.Parallel()

	table := pipeline.Table{
		Name:              "orders",
		Query:             "SELECT * FROM public.orders",
		IncrementalColumn: "updated_at",
	}

	// No checkpoint yet: full scan.
	require.Equal(t, "SELECT * FROM public.orders", connector.BuildQuery(table, ""))

	// Checkpoint present: bounded by the incremental predicate.
	q := connector.BuildQuery(table, "2024-01-01T00:00:00Z")
	require.Equal(t,
		"SELECT * FROM (SELECT * FROM public.orders) AS src WHERE updated_at > '2024-01-01T00:00:00Z'", q)

	// Non-incremental tables always run the full query.
	full := pipeline.Table{Name: "customers", Query: "SELECT * FROM customers"}
	require.Equal(t, "SELECT * FROM customers", connector.BuildQuery(full, "whatever"))
}

func TestBuildQuery_EscapesWatermark(t *testing.T) {
	t.Parallel()

	table := pipeline.Table{Name: "t", Query: "SELECT 1", IncrementalColumn: "c"}
	q := connector.BuildQuery(table, "o'clock")
	require.Contains(t, q, "'o''clock'")
}
