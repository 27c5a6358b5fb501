// Package config loads the application runtime configuration: storage
// backends, queue behavior, and filesystem layout. The pipeline definition
// document itself is loaded separately by the pipeline package.
package config

import (
	"fmt"
	"time"
)

// Paths holds the filesystem layout under the data directory.
type Paths struct {
	// DataDir is the root for all persisted state.
	DataDir string
	// CheckpointsDir holds checkpoint files for the file backend.
	CheckpointsDir string
	// QueueDir holds queue item and lease files for the file backend.
	QueueDir string
	// RunsDir holds run state records.
	RunsDir string
	// ArtifactsDir is the local artifact store root.
	ArtifactsDir string
	// WorkDir is scratch space for in-progress stage outputs.
	WorkDir string
}

// CheckpointConfig selects and parameterizes the checkpoint backend.
type CheckpointConfig struct {
	// Backend is "file" or "postgres".
	Backend string
	// DSN is the postgres connection string; it may use a secrets scheme
	// such as env:// or vault://.
	DSN string
}

// RedisConfig parameterizes the redis queue backend.
type RedisConfig struct {
	Addr     string
	Username string
	Password string
	DB       int
}

// QueueConfig selects and parameterizes the queue backend.
type QueueConfig struct {
	// Backend is "file" or "redis".
	Backend string
	// VisibilityTimeout is how long a dequeued message stays invisible.
	VisibilityTimeout time.Duration
	// MaxDeliveries caps redeliveries before dead-lettering.
	MaxDeliveries int
	Redis         RedisConfig
}

// S3Config parameterizes the object-store artifact backend.
type S3Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// ArtifactConfig selects and parameterizes the artifact backend.
type ArtifactConfig struct {
	// Backend is "local" or "s3".
	Backend string
	S3      S3Config
}

// VaultConfig connects the vault secret resolver. An empty address leaves
// the resolver unregistered and vault:// references unresolvable.
type VaultConfig struct {
	Address string
	// Token may itself use the env:// or file:// schemes.
	Token string
}

// WorkerConfig parameterizes the queue consumer.
type WorkerConfig struct {
	PollInterval time.Duration
	TaskTimeout  time.Duration
}

// LoggingConfig parameterizes the application logger.
type LoggingConfig struct {
	Debug  bool
	Quiet  bool
	Format string // text or json
}

// Config is the full runtime configuration.
type Config struct {
	Paths Paths
	// PipelineFile is the pipeline definition document.
	PipelineFile string
	Checkpoints  CheckpointConfig
	Queue        QueueConfig
	Artifacts    ArtifactConfig
	Vault        VaultConfig
	Worker       WorkerConfig
	Logging      LoggingConfig
	// Warnings collects non-fatal issues found while loading.
	Warnings []string
}

// Validate rejects unknown backend selections early, before any store is
// constructed.
func (c *Config) Validate() error {
	switch c.Checkpoints.Backend {
	case "file", "postgres":
	default:
		return fmt.Errorf("unknown checkpoint backend %q", c.Checkpoints.Backend)
	}
	if c.Checkpoints.Backend == "postgres" && c.Checkpoints.DSN == "" {
		return fmt.Errorf("checkpoint backend postgres requires a dsn")
	}
	switch c.Queue.Backend {
	case "file", "redis":
	default:
		return fmt.Errorf("unknown queue backend %q", c.Queue.Backend)
	}
	if c.Queue.Backend == "redis" && c.Queue.Redis.Addr == "" {
		return fmt.Errorf("queue backend redis requires an address")
	}
	switch c.Artifacts.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("unknown artifact backend %q", c.Artifacts.Backend)
	}
	if c.Artifacts.Backend == "s3" && c.Artifacts.S3.Bucket == "" {
		return fmt.Errorf("artifact backend s3 requires a bucket")
	}
	switch c.Logging.Format {
	case "", "text", "json":
	default:
		return fmt.Errorf("unknown log format %q", c.Logging.Format)
	}
	return nil
}
