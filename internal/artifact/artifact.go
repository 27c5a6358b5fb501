// Package artifact persists stage outputs to their durable location.
// Publication is the commit point of a task: nothing downstream may observe
// a partially written artifact.
package artifact

import (
	"context"
	"errors"

	"github.com/stratapipe/strata/internal/pipeline"
)

// ErrArtifactNotFound indicates a declared input has no published artifact.
var ErrArtifactNotFound = errors.New("artifact not found")

// Store persists and resolves stage artifacts. Path is "<source>/<table>"
// for bronze artifacts and the node name for silver/gold artifacts.
type Store interface {
	// Publish moves a locally produced file to the stage's durable
	// location atomically and returns the artifact URI.
	Publish(ctx context.Context, localFile string, stage pipeline.Stage, path string) (string, error)

	// Resolve returns a local file path for a published artifact, fetching
	// it first if the store is remote.
	Resolve(ctx context.Context, stage pipeline.Stage, path string) (string, error)
}
