// Package engine defines the interface to the embedded analytical SQL
// engine that reads source databases and columnar artifacts. The engine is
// an external collaborator; the orchestration core only depends on this
// interface.
package engine

import (
	"context"
	"errors"
)

// Engine call failures.
var (
	ErrExtraction     = errors.New("extraction failed")
	ErrTransformation = errors.New("transformation failed")
)

// Attachment describes how the engine attaches a source database session.
type Attachment struct {
	// Extension is the engine extension to install and load.
	Extension string
	// AttachType is the engine's ATTACH type for the source.
	AttachType string
	// Connection is the resolved connection string.
	Connection string
}

// ExtractResult reports the outcome of one extraction.
type ExtractResult struct {
	// Rows extracted into the destination artifact.
	Rows int64
	// MaxWatermark is the maximum observed value of the incremental column,
	// empty when the extraction was a full scan with no incremental column
	// or no rows matched.
	MaxWatermark string
}

// Engine executes extraction and transformation SQL. Implementations must
// honor context cancellation; callers bound every call with a timeout.
type Engine interface {
	// Extract attaches the source, runs the query, and writes the result
	// set to the destination columnar file.
	Extract(ctx context.Context, att Attachment, query, incrementalColumn, destination string) (*ExtractResult, error)

	// Transform runs a SQL transformation with the named input artifacts
	// available as relations, writing the result to the destination file.
	// The write overwrites any previous output deterministically.
	Transform(ctx context.Context, inputs map[string]string, query, destination string) (int64, error)

	// Count evaluates a scalar count query with the named artifacts
	// available as relations.
	Count(ctx context.Context, inputs map[string]string, query string) (int64, error)

	// Run executes an external script transformation that writes the
	// destination artifact itself.
	Run(ctx context.Context, inputs map[string]string, command, destination string) (int64, error)
}
