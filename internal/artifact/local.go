package artifact

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/pipeline"
)

var _ Store = (*LocalStore)(nil)

// LocalStore keeps artifacts under a base directory, one subdirectory per
// stage. Publication copies via a temp file and rename so a crash mid-copy
// never leaves a partial artifact at the published path.
type LocalStore struct {
	baseDir string
}

func NewLocalStore(baseDir string) *LocalStore {
	return &LocalStore{baseDir: baseDir}
}

// Publish implements Store.
func (s *LocalStore) Publish(ctx context.Context, localFile string, stage pipeline.Stage, path string) (string, error) {
	dest := s.artifactPath(stage, path)
	if err := fileutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return "", err
	}

	src, err := os.Open(localFile) //nolint:gosec
	if err != nil {
		return "", fmt.Errorf("failed to open artifact %s: %w", localFile, err)
	}
	defer func() { _ = src.Close() }()

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".publish-")
	if err != nil {
		return "", fmt.Errorf("failed to create temp artifact: %w", err)
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if _, err := io.Copy(tmp, src); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("failed to copy artifact to %s: %w", tmpName, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("failed to close temp artifact %s: %w", tmpName, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return "", fmt.Errorf("failed to publish artifact to %s: %w", dest, err)
	}

	logger.Debug(ctx, "Published artifact",
		tag.Stage(string(stage)),
		tag.Artifact(dest))
	return dest, nil
}

// Resolve implements Store.
func (s *LocalStore) Resolve(_ context.Context, stage pipeline.Stage, path string) (string, error) {
	dest := s.artifactPath(stage, path)
	if !fileutil.FileExists(dest) {
		return "", fmt.Errorf("%w: %s/%s", ErrArtifactNotFound, stage, path)
	}
	return dest, nil
}

func (s *LocalStore) artifactPath(stage pipeline.Stage, path string) string {
	return filepath.Join(s.baseDir, string(stage), fileutil.SafeName(path)+".parquet")
}
