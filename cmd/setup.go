package cmd

import (
	"context"
	"fmt"

	"github.com/stratapipe/strata/internal/artifact"
	"github.com/stratapipe/strata/internal/checkpoint"
	"github.com/stratapipe/strata/internal/config"
	"github.com/stratapipe/strata/internal/coordinator"
	"github.com/stratapipe/strata/internal/engine"
	"github.com/stratapipe/strata/internal/executor"
	"github.com/stratapipe/strata/internal/logger"
	"github.com/stratapipe/strata/internal/logger/tag"
	"github.com/stratapipe/strata/internal/persistence/filecheckpoint"
	"github.com/stratapipe/strata/internal/persistence/filequeue"
	"github.com/stratapipe/strata/internal/persistence/pgcheckpoint"
	"github.com/stratapipe/strata/internal/persistence/redisqueue"
	"github.com/stratapipe/strata/internal/pipeline"
	"github.com/stratapipe/strata/internal/plan"
	"github.com/stratapipe/strata/internal/secrets"
)

// app bundles everything a command needs after setup.
type app struct {
	cfg      *config.Config
	secrets  *secrets.Registry
	closeFns []func() error
}

// setup loads the configuration and builds a logging context.
func setup(ctx context.Context) (context.Context, *app, error) {
	var opts []config.LoaderOption
	if cfgFile != "" {
		opts = append(opts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.NewLoader(opts...).Load()
	if err != nil {
		return ctx, nil, err
	}

	var logOpts []logger.Option
	if cfg.Logging.Debug {
		logOpts = append(logOpts, logger.WithDebug())
	}
	if cfg.Logging.Quiet {
		logOpts = append(logOpts, logger.WithQuiet())
	}
	if cfg.Logging.Format != "" {
		logOpts = append(logOpts, logger.WithFormat(cfg.Logging.Format))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(logOpts...))

	for _, w := range cfg.Warnings {
		logger.Warn(ctx, "Configuration warning", tag.String("warning", w))
	}

	registry := secrets.NewRegistry()
	if cfg.Vault.Address != "" {
		// The token may itself be an env:// or file:// reference.
		token, err := registry.Resolve(ctx, cfg.Vault.Token)
		if err != nil {
			return ctx, nil, fmt.Errorf("failed to resolve vault token: %w", err)
		}
		registry.Register(secrets.NewVaultResolver(cfg.Vault.Address, token))
	}

	return ctx, &app{cfg: cfg, secrets: registry}, nil
}

func (a *app) close() {
	for _, fn := range a.closeFns {
		_ = fn()
	}
}

// loadPipeline reads the pipeline definition named by the config or the
// --file flag override.
func (a *app) loadPipeline(file string) (*pipeline.Pipeline, error) {
	if file == "" {
		file = a.cfg.PipelineFile
	}
	if file == "" {
		return nil, fmt.Errorf("no pipeline file: set pipelineFile in config or pass --file")
	}
	return pipeline.Load(file)
}

func (a *app) checkpointStore(ctx context.Context) (checkpoint.Store, error) {
	switch a.cfg.Checkpoints.Backend {
	case "postgres":
		dsn, err := a.secrets.Resolve(ctx, a.cfg.Checkpoints.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve checkpoint dsn: %w", err)
		}
		store, err := pgcheckpoint.New(ctx, dsn)
		if err != nil {
			return nil, err
		}
		a.closeFns = append(a.closeFns, store.Close)
		return store, nil
	default:
		return filecheckpoint.New(a.cfg.Paths.CheckpointsDir), nil
	}
}

func (a *app) queueStore() coordinator.QueueStore {
	if a.cfg.Queue.Backend == "redis" {
		store := redisqueue.New(redisqueue.Config{
			Addr:              a.cfg.Queue.Redis.Addr,
			Username:          a.cfg.Queue.Redis.Username,
			Password:          a.cfg.Queue.Redis.Password,
			DB:                a.cfg.Queue.Redis.DB,
			VisibilityTimeout: a.cfg.Queue.VisibilityTimeout,
		})
		a.closeFns = append(a.closeFns, store.Close)
		return store
	}
	return filequeue.New(a.cfg.Paths.QueueDir,
		filequeue.WithVisibilityTimeout(a.cfg.Queue.VisibilityTimeout))
}

func (a *app) artifactStore() (artifact.Store, error) {
	if a.cfg.Artifacts.Backend == "s3" {
		return artifact.NewS3Store(artifact.S3Config{
			Endpoint:  a.cfg.Artifacts.S3.Endpoint,
			AccessKey: a.cfg.Artifacts.S3.AccessKey,
			SecretKey: a.cfg.Artifacts.S3.SecretKey,
			Bucket:    a.cfg.Artifacts.S3.Bucket,
			Prefix:    a.cfg.Artifacts.S3.Prefix,
			UseSSL:    a.cfg.Artifacts.S3.UseSSL,
		}, a.cfg.Paths.WorkDir)
	}
	return artifact.NewLocalStore(a.cfg.Paths.ArtifactsDir), nil
}

func (a *app) runStore() *coordinator.FileRunStore {
	return coordinator.NewFileRunStore(a.cfg.Paths.RunsDir)
}

// stageExecutor wires a full executor for the pipeline.
func (a *app) stageExecutor(ctx context.Context, pl *pipeline.Pipeline) (*executor.Executor, error) {
	execPlan, err := plan.Plan(pl)
	if err != nil {
		return nil, err
	}
	checkpoints, err := a.checkpointStore(ctx)
	if err != nil {
		return nil, err
	}
	artifacts, err := a.artifactStore()
	if err != nil {
		return nil, err
	}
	return executor.New(executor.Config{
		Pipeline:    pl,
		Plan:        execPlan,
		Checkpoints: checkpoints,
		Artifacts:   artifacts,
		Engine:      engine.NewShellEngine(""),
		Secrets:     a.secrets,
		WorkDir:     a.cfg.Paths.WorkDir,
		TaskTimeout: a.cfg.Worker.TaskTimeout,
	}), nil
}
