// Package bootstrap provides dependency initialization for the video generation API.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/maauso/videogen-api/internal/config"
	"github.com/maauso/videogen-api/internal/job"
	"github.com/maauso/videogen-api/internal/media"
	"github.com/maauso/videogen-api/internal/metrics"
	"github.com/maauso/videogen-api/internal/render"
	"github.com/maauso/videogen-api/internal/storage"
)

// interruptedReason is recorded on jobs that were running when the process died.
const interruptedReason = "interrupted by server restart"

// Dependencies holds all initialized dependencies for the HTTP server.
type Dependencies struct {
	Service *job.RenderService
	Uploads storage.Storage
	Metrics *metrics.Metrics

	janitor  *job.Janitor
	schedule string
	sqlite   *job.SQLiteRegistry
	logger   *slog.Logger
}

// NewDependencies creates and initializes all dependencies for the application.
// Call Start to launch background work and Shutdown to release it.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, error) {
	m := metrics.New()

	uploads, err := storage.NewLocalStorage(cfg.UploadsDir)
	if err != nil {
		return nil, fmt.Errorf("create uploads storage: %w", err)
	}
	outputs, err := initOutputStorage(cfg, logger)
	if err != nil {
		return nil, err
	}

	registry, sqlite, err := initRegistry(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	resolver := media.NewResolver(uploads,
		media.WithHTTPClient(media.NewHTTPClient(cfg.DownloadTimeout())),
		media.WithConcurrency(cfg.MaxConcurrentDownloads),
		media.WithRetries(cfg.DownloadRetries, media.DefaultBackoff),
		media.WithLogger(logger),
		media.WithObserver(m.ObserveDownload),
	)

	dispatcherOpts := []render.Option{
		render.WithArgs(cfg.RenderArgs...),
		render.WithTimeout(cfg.RenderTimeout()),
		render.WithTailSize(cfg.RenderTailBytes()),
		render.WithLogger(logger),
	}
	if cfg.RenderWorkDir != "" {
		dispatcherOpts = append(dispatcherOpts, render.WithWorkDir(cfg.RenderWorkDir))
	}
	if len(cfg.RenderEnv) > 0 {
		dispatcherOpts = append(dispatcherOpts, render.WithEnv(cfg.RenderEnv...))
	}
	dispatcher := render.NewDispatcher(cfg.RenderCommand, dispatcherOpts...)

	queue := job.NewQueue(cfg.WorkerCount, cfg.QueueSize, logger)
	m.RegisterQueueDepth(queue.Len)

	svc := job.NewRenderService(
		registry,
		resolver,
		dispatcher,
		outputs,
		queue,
		job.WithServiceLogger(logger),
		job.WithObserver(m),
	)

	return &Dependencies{
		Service:  svc,
		Uploads:  uploads,
		Metrics:  m,
		janitor:  job.NewJanitor(svc, cfg.JobTTL(), logger),
		schedule: cfg.JobSweepSchedule,
		sqlite:   sqlite,
		logger:   logger,
	}, nil
}

// Start launches the render workers and the retention sweep.
func (d *Dependencies) Start(ctx context.Context) error {
	d.Service.Start()
	if err := d.janitor.Start(ctx, d.schedule); err != nil {
		return fmt.Errorf("start janitor: %w", err)
	}
	return nil
}

// Shutdown stops the sweep, drains the render service and closes the registry.
func (d *Dependencies) Shutdown(ctx context.Context) error {
	d.janitor.Stop()
	errs := []error{d.Service.Shutdown(ctx)}
	if d.sqlite != nil {
		errs = append(errs, d.sqlite.Close())
	}
	return errors.Join(errs...)
}

// initOutputStorage creates the output backend. With S3 configured finished
// videos are also published to the bucket.
func initOutputStorage(cfg *config.Config, logger *slog.Logger) (storage.Storage, error) {
	if cfg.S3Enabled() {
		s3Cfg := storage.S3Config{
			Bucket:          cfg.S3Bucket,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			Prefix:          cfg.S3Prefix,
			AccessKeyID:     cfg.AWSAccessKeyID,
			SecretAccessKey: cfg.AWSSecretAccessKey,
		}
		s3Store, err := storage.NewS3Storage(cfg.OutputDir, s3Cfg)
		if err != nil {
			return nil, fmt.Errorf("create S3 storage: %w", err)
		}
		logger.Info("S3 storage configured",
			slog.String("bucket", cfg.S3Bucket),
			slog.String("region", cfg.S3Region),
		)
		return s3Store, nil
	}

	localStore, err := storage.NewLocalStorage(cfg.OutputDir)
	if err != nil {
		return nil, fmt.Errorf("create output storage: %w", err)
	}
	logger.Info("local storage configured",
		slog.String("output_dir", localStore.Dir()),
	)
	return localStore, nil
}

// initRegistry opens the SQLite registry when DB_PATH is set and fails any
// job a previous process left unfinished. Otherwise jobs live in memory.
func initRegistry(ctx context.Context, cfg *config.Config, logger *slog.Logger) (job.Registry, *job.SQLiteRegistry, error) {
	if cfg.DBPath == "" {
		logger.Info("job registry in memory")
		return job.NewMemoryRegistry(), nil, nil
	}

	reg, err := job.NewSQLiteRegistry(cfg.DBPath)
	if err != nil {
		return nil, nil, fmt.Errorf("open job registry: %w", err)
	}
	recovered, err := reg.RecoverInterrupted(ctx, interruptedReason)
	if err != nil {
		_ = reg.Close()
		return nil, nil, fmt.Errorf("recover interrupted jobs: %w", err)
	}
	logger.Info("job registry opened",
		slog.String("path", cfg.DBPath),
		slog.Int("recovered", recovered),
	)
	return reg, reg, nil
}
