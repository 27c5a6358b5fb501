// Package filequeue implements the coordinator queue on the local
// filesystem. Each message is one JSON item file whose name carries the
// enqueue timestamp for FIFO ordering; a lease file alongside it makes the
// message invisible until the lease expires. Dead-lettered messages move to
// a dead/ subdirectory for inspection.
//
// The store relies on the file system and is meant to be consumed by a
// single worker process at a time.
package filequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/fileutil"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
)

var _ coordinator.QueueStore = (*Store)(nil)

const (
	itemPrefix  = "item_"
	deadDirName = "dead"
	tsFormat    = "20060102_150405"

	DefaultVisibilityTimeout = 5 * time.Minute
)

var itemMatch = regexp.MustCompile(`^item_(\d{8}_\d{6})_(\d{9})Z_(.*)\.json$`)

// Store is a file-backed queue with visibility leases.
type Store struct {
	baseDir    string
	visibility time.Duration
	mu         sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithVisibilityTimeout overrides the lease duration handed out by Dequeue.
func WithVisibilityTimeout(d time.Duration) Option {
	return func(s *Store) { s.visibility = d }
}

func New(baseDir string, opts ...Option) *Store {
	s := &Store{baseDir: baseDir, visibility: DefaultVisibilityTimeout}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue implements coordinator.QueueStore.
func (s *Store) Enqueue(ctx context.Context, msg coordinator.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := fileutil.EnsureDir(s.baseDir); err != nil {
		return fmt.Errorf("failed to create queue directory %s: %w", s.baseDir, err)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal queue item %s: %w", msg.ID, err)
	}
	file := itemFileName(msg)
	if err := fileutil.WriteFileAtomic(filepath.Join(s.baseDir, file), data); err != nil {
		return fmt.Errorf("failed to write queue item %s: %w", msg.ID, err)
	}

	logger.Info(ctx, "Enqueued stage message",
		tag.Queue(filepath.Base(s.baseDir)),
		tag.MessageID(msg.ID),
		tag.Stage(string(msg.Stage)),
		tag.RunID(msg.RunID))
	return nil
}

// Dequeue implements coordinator.QueueStore. The oldest item without a live
// lease is leased for the visibility timeout and returned with its delivery
// count already incremented.
func (s *Store) Dequeue(ctx context.Context) (*coordinator.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.itemFiles()
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	for _, file := range files {
		full := filepath.Join(s.baseDir, file)
		if s.leased(full, now) {
			continue
		}

		msg, err := readItem(full)
		if err != nil {
			// A torn or foreign file must not wedge the queue.
			logger.Warn(ctx, "Skipping unreadable queue item",
				tag.File(file),
				tag.Error(err))
			continue
		}

		msg.Deliveries++
		data, err := json.Marshal(msg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal queue item %s: %w", msg.ID, err)
		}
		if err := fileutil.WriteFileAtomic(full, data); err != nil {
			return nil, fmt.Errorf("failed to update queue item %s: %w", msg.ID, err)
		}
		expiry := now.Add(s.visibility)
		if err := fileutil.WriteFileAtomic(full+".lease", []byte(expiry.Format(time.RFC3339Nano))); err != nil {
			return nil, fmt.Errorf("failed to lease queue item %s: %w", msg.ID, err)
		}

		logger.Debug(ctx, "Leased stage message",
			tag.MessageID(msg.ID),
			tag.Deliveries(msg.Deliveries))
		return msg, nil
	}

	return nil, coordinator.ErrQueueEmpty
}

// Ack implements coordinator.QueueStore.
func (s *Store) Ack(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.find(id)
	if err != nil {
		return err
	}
	_ = os.Remove(file + ".lease")
	if err := os.Remove(file); err != nil {
		return fmt.Errorf("failed to remove queue item %s: %w", id, err)
	}
	return nil
}

// DeadLetter implements coordinator.QueueStore. The item file moves to the
// dead/ subdirectory and its lease is dropped.
func (s *Store) DeadLetter(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	file, err := s.find(id)
	if err != nil {
		return err
	}
	deadDir := filepath.Join(s.baseDir, deadDirName)
	if err := fileutil.EnsureDir(deadDir); err != nil {
		return fmt.Errorf("failed to create dead-letter directory: %w", err)
	}
	_ = os.Remove(file + ".lease")
	if err := os.Rename(file, filepath.Join(deadDir, filepath.Base(file))); err != nil {
		return fmt.Errorf("failed to dead-letter queue item %s: %w", id, err)
	}

	logger.Warn(ctx, "Dead-lettered stage message", tag.MessageID(id))
	return nil
}

// Len implements coordinator.QueueStore. It counts active items, leased or
// not, excluding dead letters.
func (s *Store) Len(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	files, err := s.itemFiles()
	if err != nil {
		return 0, err
	}
	return len(files), nil
}

// DeadLetters returns the parked messages, oldest first.
func (s *Store) DeadLetters(_ context.Context) ([]coordinator.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	deadDir := filepath.Join(s.baseDir, deadDirName)
	entries, err := os.ReadDir(deadDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dead-letter directory: %w", err)
	}

	var out []coordinator.Message
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if itemMatch.MatchString(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, name := range names {
		msg, err := readItem(filepath.Join(deadDir, name))
		if err != nil {
			continue
		}
		out = append(out, *msg)
	}
	return out, nil
}

func (s *Store) itemFiles() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read queue directory %s: %w", s.baseDir, err)
	}

	var files []string
	for _, e := range entries {
		if !e.IsDir() && itemMatch.MatchString(e.Name()) {
			files = append(files, e.Name())
		}
	}
	// The timestamp prefix makes lexical order FIFO order.
	sort.Strings(files)
	return files, nil
}

func (s *Store) leased(itemPath string, now time.Time) bool {
	data, err := os.ReadFile(itemPath + ".lease") //nolint:gosec
	if err != nil {
		return false
	}
	expiry, err := time.Parse(time.RFC3339Nano, string(data))
	if err != nil {
		return false
	}
	return now.Before(expiry)
}

func (s *Store) find(id string) (string, error) {
	files, err := s.itemFiles()
	if err != nil {
		return "", err
	}
	suffix := "_" + fileutil.SafeName(id) + ".json"
	for _, file := range files {
		if len(file) >= len(suffix) && file[len(file)-len(suffix):] == suffix {
			return filepath.Join(s.baseDir, file), nil
		}
	}
	return "", fmt.Errorf("queue item %s not found", id)
}

func readItem(path string) (*coordinator.Message, error) {
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, err
	}
	var msg coordinator.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.ID == "" {
		return nil, errors.New("queue item has no id")
	}
	return &msg, nil
}

func itemFileName(msg coordinator.Message) string {
	ts := msg.EnqueuedAt.UTC()
	return itemPrefix +
		ts.Format(tsFormat) + "_" +
		fmt.Sprintf("%09d", ts.Nanosecond()) + "Z_" +
		fileutil.SafeName(msg.ID) + ".json"
}
