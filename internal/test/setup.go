// Package test provides shared setup for integration-style tests: a
// temp-dir backed configuration and a context carrying a quiet logger.
package test

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stratapipe/strata/internal/config"
	"github.com/stratapipe/strata/internal/logger"
)

// Helper bundles the per-test environment.
type Helper struct {
	Context context.Context
	Config  *config.Config
}

// Setup builds a file-backend configuration rooted in a fresh temp dir.
// Everything it creates is cleaned up with the test.
func Setup(t *testing.T) Helper {
	t.Helper()

	dataDir := t.TempDir()
	cfg := &config.Config{
		Paths: config.Paths{
			DataDir:        dataDir,
			CheckpointsDir: filepath.Join(dataDir, "checkpoints"),
			QueueDir:       filepath.Join(dataDir, "queue"),
			RunsDir:        filepath.Join(dataDir, "runs"),
			ArtifactsDir:   filepath.Join(dataDir, "artifacts"),
			WorkDir:        filepath.Join(dataDir, "work"),
		},
		Checkpoints: config.CheckpointConfig{Backend: "file"},
		Queue: config.QueueConfig{
			Backend:           "file",
			VisibilityTimeout: time.Minute,
			MaxDeliveries:     3,
		},
		Artifacts: config.ArtifactConfig{Backend: "local"},
		Worker: config.WorkerConfig{
			PollInterval: 10 * time.Millisecond,
			TaskTimeout:  time.Minute,
		},
		Logging: config.LoggingConfig{Quiet: true},
	}

	ctx := logger.WithLogger(context.Background(),
		logger.NewLogger(logger.WithDebug(), logger.WithWriter(io.Discard)))

	return Helper{Context: ctx, Config: cfg}
}
