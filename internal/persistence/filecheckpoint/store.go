// Package filecheckpoint implements the checkpoint store on the local
// filesystem: one JSON file per (key, table) pair, written atomically via
// temp file + rename, with a lock file serializing read-modify-write across
// processes.
package filecheckpoint

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

	"github.com/stratapipe/strata/internal/checkpoint"
	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

var _ checkpoint.Store = (*Store)(nil)

const (
	lockRetryInterval = 20 * time.Millisecond
	lockStale         = 30 * time.Second
)

// Store is a file-backed checkpoint store.
type Store struct {
	baseDir string
	mu      sync.Mutex
}

func New(baseDir string) *Store {
	return &Store{baseDir: baseDir}
}

// Get implements checkpoint.Store.
func (s *Store) Get(_ context.Context, key, table string) (*checkpoint.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read(key, table)
}

// Advance implements checkpoint.Store. The stored watermark never regresses:
// if a concurrent writer already advanced past value, the call is a no-op.
func (s *Store) Advance(ctx context.Context, key, table, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	unlock, err := s.lock(ctx, key, table)
	if err != nil {
		return err
	}
	defer unlock()

	current, err := s.read(key, table)
	if err != nil {
		return err
	}
	if current != nil && checkpoint.Compare(current.Value, value) >= 0 {
		logger.Debug(ctx, "Checkpoint already at or past value",
			tag.CheckpointKey(key),
			tag.Table(table),
			tag.Watermark(current.Value))
		return nil
	}

	entry := checkpoint.Entry{Value: value, UpdatedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal checkpoint %s:%s: %w", key, table, err)
	}
	if err := fileutil.WriteFileAtomic(s.path(key, table), data); err != nil {
		return fmt.Errorf("failed to persist checkpoint %s:%s: %w", key, table, err)
	}

	logger.Debug(ctx, "Advanced checkpoint",
		tag.CheckpointKey(key),
		tag.Table(table),
		tag.Watermark(value))
	return nil
}

// Reset implements checkpoint.Store.
func (s *Store) Reset(ctx context.Context, key, table string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := os.Remove(s.path(key, table))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to reset checkpoint %s:%s: %w", key, table, err)
	}
	logger.Info(ctx, "Checkpoint reset",
		tag.CheckpointKey(key),
		tag.Table(table))
	return nil
}

func (s *Store) read(key, table string) (*checkpoint.Entry, error) {
	data, err := os.ReadFile(s.path(key, table)) //nolint:gosec
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", checkpoint.ErrCheckpoint, key, table, err)
	}
	var entry checkpoint.Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("%w: %s:%s: %v", checkpoint.ErrCheckpoint, key, table, err)
	}
	if entry.Value == "" {
		return nil, fmt.Errorf("%w: %s:%s: empty watermark", checkpoint.ErrCheckpoint, key, table)
	}
	return &entry, nil
}

func (s *Store) path(key, table string) string {
	name := fileutil.SafeName(key) + "." + fileutil.SafeName(table) + ".json"
	return filepath.Join(s.baseDir, name)
}

// lock acquires an exclusive lock file for the pair, waiting until it is
// available or the context is cancelled. Locks older than lockStale are
// from dead processes and get broken.
func (s *Store) lock(ctx context.Context, key, table string) (func(), error) {
	if err := fileutil.EnsureDir(s.baseDir); err != nil {
		return nil, err
	}
	lockPath := s.path(key, table) + ".lock"
	for {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err == nil {
			_ = f.Close()
			return func() { _ = os.Remove(lockPath) }, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return nil, fmt.Errorf("failed to acquire checkpoint lock %s: %w", lockPath, err)
		}
		if fi, statErr := os.Stat(lockPath); statErr == nil && time.Since(fi.ModTime()) > lockStale {
			_ = os.Remove(lockPath)
			continue
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(lockRetryInterval):
		}
	}
}
