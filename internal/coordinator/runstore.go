package coordinator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

var _ RunStore = (*FileRunStore)(nil)

// FileRunStore persists one JSON file per run. Writes go through a temp
// file + rename so a crashed writer never leaves a torn record.
type FileRunStore struct {
	baseDir string
	mu      sync.Mutex
}

func NewFileRunStore(baseDir string) *FileRunStore {
	return &FileRunStore{baseDir: baseDir}
}

func (s *FileRunStore) Create(ctx context.Context, run Run) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.State == "" {
		run.State = StateScheduled
	}
	now := time.Now().UTC()
	if run.StartedAt.IsZero() {
		run.StartedAt = now
	}
	run.UpdatedAt = now

	if err := s.write(run); err != nil {
		return err
	}
	logger.Info(ctx, "Run created",
		tag.RunID(run.ID),
		tag.String("pipeline", run.Pipeline))
	return nil
}

func (s *FileRunStore) Get(_ context.Context, runID string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(runID)
}

func (s *FileRunStore) Transition(ctx context.Context, runID string, next RunState, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, err := s.read(runID)
	if err != nil {
		return err
	}
	if !CanTransition(run.State, next) {
		return badTransition(run.State, next)
	}
	run.State = next
	run.UpdatedAt = time.Now().UTC()
	if next == StateFailed {
		run.Reason = reason
	}
	if err := s.write(*run); err != nil {
		return err
	}
	logger.Info(ctx, "Run transitioned",
		tag.RunID(runID),
		tag.String("state", string(next)))
	return nil
}

func (s *FileRunStore) write(run Run) error {
	if err := fileutil.EnsureDir(s.baseDir); err != nil {
		return err
	}
	data, err := json.MarshalIndent(run, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal run %s: %w", run.ID, err)
	}
	return fileutil.WriteFileAtomic(s.path(run.ID), data)
}

func (s *FileRunStore) read(runID string) (*Run, error) {
	data, err := os.ReadFile(s.path(runID)) //nolint:gosec
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read run %s: %w", runID, err)
	}
	var run Run
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to parse run %s: %w", runID, err)
	}
	return &run, nil
}

func (s *FileRunStore) path(runID string) string {
	return filepath.Join(s.baseDir, fileutil.SafeName(runID)+".json")
}
