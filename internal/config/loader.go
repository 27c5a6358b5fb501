package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/stratapipe/strata/internal/build"
	"github.com/stratapipe/strata/internal/fileutil"
)

// Loader reads and merges configuration from the config file, environment
// variables (STRATA_ prefix) and defaults, in that order of precedence from
// highest to lowest: env, file, default.
type Loader struct {
	v          *viper.Viper
	configFile string
}

// LoaderOption configures a Loader.
type LoaderOption func(*Loader)

// WithConfigFile sets an explicit configuration file path.
func WithConfigFile(file string) LoaderOption {
	return func(l *Loader) { l.configFile = file }
}

func NewLoader(opts ...LoaderOption) *Loader {
	l := &Loader{v: viper.New()}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// definition is the raw file/env shape before path resolution.
type definition struct {
	DataDir      string `mapstructure:"dataDir"`
	PipelineFile string `mapstructure:"pipelineFile"`
	Checkpoints  struct {
		Backend string `mapstructure:"backend"`
		DSN     string `mapstructure:"dsn"`
	} `mapstructure:"checkpoints"`
	Queue struct {
		Backend           string `mapstructure:"backend"`
		VisibilityTimeout string `mapstructure:"visibilityTimeout"`
		MaxDeliveries     int    `mapstructure:"maxDeliveries"`
		Redis             struct {
			Addr     string `mapstructure:"addr"`
			Username string `mapstructure:"username"`
			Password string `mapstructure:"password"`
			DB       int    `mapstructure:"db"`
		} `mapstructure:"redis"`
	} `mapstructure:"queue"`
	Artifacts struct {
		Backend string `mapstructure:"backend"`
		S3      struct {
			Endpoint  string `mapstructure:"endpoint"`
			AccessKey string `mapstructure:"accessKey"`
			SecretKey string `mapstructure:"secretKey"`
			Bucket    string `mapstructure:"bucket"`
			Prefix    string `mapstructure:"prefix"`
			UseSSL    bool   `mapstructure:"useSSL"`
		} `mapstructure:"s3"`
	} `mapstructure:"artifacts"`
	Vault struct {
		Address string `mapstructure:"address"`
		Token   string `mapstructure:"token"`
	} `mapstructure:"vault"`
	Worker struct {
		PollInterval string `mapstructure:"pollInterval"`
		TaskTimeout  string `mapstructure:"taskTimeout"`
	} `mapstructure:"worker"`
	Logging struct {
		Debug  bool   `mapstructure:"debug"`
		Quiet  bool   `mapstructure:"quiet"`
		Format string `mapstructure:"format"`
	} `mapstructure:"logging"`
}

// Load reads the configuration and returns a validated Config.
func (l *Loader) Load() (*Config, error) {
	l.v.SetEnvPrefix(strings.ToUpper(build.Slug))
	l.v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	l.v.AutomaticEnv()

	l.setDefaults()

	if l.configFile != "" {
		l.v.SetConfigFile(l.configFile)
	} else {
		l.v.SetConfigName("config")
		l.v.SetConfigType("yaml")
		l.v.AddConfigPath(filepath.Join(xdg.ConfigHome, build.Slug))
	}
	if err := l.v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var def definition
	if err := l.v.Unmarshal(&def); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	cfg, err := l.build(def)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *Loader) setDefaults() {
	l.v.SetDefault("dataDir", filepath.Join(xdg.DataHome, build.Slug))
	l.v.SetDefault("checkpoints.backend", "file")
	l.v.SetDefault("queue.backend", "file")
	l.v.SetDefault("queue.visibilityTimeout", "5m")
	l.v.SetDefault("queue.maxDeliveries", 3)
	l.v.SetDefault("artifacts.backend", "local")
	l.v.SetDefault("worker.pollInterval", "1s")
	l.v.SetDefault("worker.taskTimeout", "30m")
	l.v.SetDefault("logging.format", "text")
}

func (l *Loader) build(def definition) (*Config, error) {
	cfg := &Config{
		PipelineFile: def.PipelineFile,
		Checkpoints: CheckpointConfig{
			Backend: def.Checkpoints.Backend,
			DSN:     def.Checkpoints.DSN,
		},
		Queue: QueueConfig{
			Backend:       def.Queue.Backend,
			MaxDeliveries: def.Queue.MaxDeliveries,
			Redis: RedisConfig{
				Addr:     def.Queue.Redis.Addr,
				Username: def.Queue.Redis.Username,
				Password: def.Queue.Redis.Password,
				DB:       def.Queue.Redis.DB,
			},
		},
		Artifacts: ArtifactConfig{
			Backend: def.Artifacts.Backend,
			S3: S3Config{
				Endpoint:  def.Artifacts.S3.Endpoint,
				AccessKey: def.Artifacts.S3.AccessKey,
				SecretKey: def.Artifacts.S3.SecretKey,
				Bucket:    def.Artifacts.S3.Bucket,
				Prefix:    def.Artifacts.S3.Prefix,
				UseSSL:    def.Artifacts.S3.UseSSL,
			},
		},
		Vault: VaultConfig{
			Address: def.Vault.Address,
			Token:   def.Vault.Token,
		},
		Logging: LoggingConfig{
			Debug:  def.Logging.Debug,
			Quiet:  def.Logging.Quiet,
			Format: def.Logging.Format,
		},
	}

	dataDir, err := fileutil.ResolvePath(def.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve data directory %q: %w", def.DataDir, err)
	}
	cfg.Paths = Paths{
		DataDir:        dataDir,
		CheckpointsDir: filepath.Join(dataDir, "checkpoints"),
		QueueDir:       filepath.Join(dataDir, "queue"),
		RunsDir:        filepath.Join(dataDir, "runs"),
		ArtifactsDir:   filepath.Join(dataDir, "artifacts"),
		WorkDir:        filepath.Join(dataDir, "work"),
	}

	if cfg.PipelineFile != "" {
		cfg.PipelineFile, err = fileutil.ResolvePath(cfg.PipelineFile)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve pipeline file %q: %w", def.PipelineFile, err)
		}
	}

	cfg.Queue.VisibilityTimeout = l.parseDuration(cfg, "queue.visibilityTimeout", def.Queue.VisibilityTimeout, 5*time.Minute)
	cfg.Worker.PollInterval = l.parseDuration(cfg, "worker.pollInterval", def.Worker.PollInterval, time.Second)
	cfg.Worker.TaskTimeout = l.parseDuration(cfg, "worker.taskTimeout", def.Worker.TaskTimeout, 30*time.Minute)

	return cfg, nil
}

// parseDuration falls back to the default and records a warning on invalid
// input rather than failing the whole load.
func (l *Loader) parseDuration(cfg *Config, field, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		cfg.Warnings = append(cfg.Warnings, fmt.Sprintf("invalid %s value %q, using %s", field, value, fallback))
		return fallback
	}
	return d
}
