// Package connector maps source connector kinds to engine attachment
// parameters and builds incremental extraction queries. The kind set is
// closed and resolved at plan time.
package connector

import (
	"errors"
	"fmt"
	"strings"

	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/pipeline"
)

// ErrUnknownConnector is returned for connector kinds outside the closed set.
var ErrUnknownConnector = errors.New("unknown connector type")

// Connector carries the engine parameters for one source kind.
type Connector struct {
	Kind       pipeline.ConnectorKind
	Extension  string
	AttachType string
}

var registry = map[pipeline.ConnectorKind]Connector{
	pipeline.ConnectorPostgres: {
		Kind:       pipeline.ConnectorPostgres,
		Extension:  "postgres",
		AttachType: "POSTGRES",
	},
	pipeline.ConnectorAzureSQL: {
		Kind:       pipeline.ConnectorAzureSQL,
		Extension:  "odbc",
		AttachType: "ODBC",
	},
	pipeline.ConnectorSAPB1: {
		Kind:       pipeline.ConnectorSAPB1,
		Extension:  "odbc",
		AttachType: "ODBC",
	},
}

// Resolve returns the connector for the given kind.
func Resolve(kind pipeline.ConnectorKind) (Connector, error) {
	c, ok := registry[kind]
	if !ok {
		return Connector{}, fmt.Errorf("%w: %q", ErrUnknownConnector, kind)
	}
	return c, nil
}

// Attachment builds the engine attachment for a resolved connection string.
func (c Connector) Attachment(connection string) engine.Attachment {
	return engine.Attachment{
		Extension:  c.Extension,
		AttachType: c.AttachType,
		Connection: connection,
	}
}

// BuildQuery bounds the table's extraction query with the incremental
// predicate when a watermark exists, otherwise returns the full query.
func BuildQuery(table pipeline.Table, lastValue string) string {
	if table.IncrementalColumn == "" || lastValue == "" {
		return table.Query
	}
	escaped := strings.ReplaceAll(lastValue, "'", "''")
	return fmt.Sprintf("SELECT * FROM (%s) AS src WHERE %s > '%s'",
		table.Query, table.IncrementalColumn, escaped)
}
