// Package main provides the entry point for the video generation API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/maauso/videogen-api/internal/bootstrap"
	"github.com/maauso/videogen-api/internal/config"
	"github.com/maauso/videogen-api/internal/server"
)

// shutdownTimeout bounds how long in-flight renders and requests get to finish.
const shutdownTimeout = 30 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load configuration from .env and the environment
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// Create structured logger
	logger := cfg.NewLogger()
	slog.SetDefault(logger)

	logger.Info("starting video generation API",
		slog.Int("port", cfg.Port),
		slog.String("log_format", cfg.LogFormat),
		slog.String("log_level", cfg.LogLevel),
		slog.String("render_command", cfg.RenderCommand),
		slog.Int("workers", cfg.WorkerCount),
		slog.Int("queue_size", cfg.QueueSize),
		slog.Bool("s3_enabled", cfg.S3Enabled()),
		slog.Bool("persistent_jobs", cfg.DBPath != ""),
	)
	logger.Debug("configuration", slog.String("config", cfg.String()))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize dependencies using bootstrap
	deps, err := bootstrap.NewDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("initialize dependencies: %w", err)
	}
	if err := deps.Start(context.WithoutCancel(ctx)); err != nil {
		return errors.Join(err, deps.Shutdown(context.Background()))
	}

	// Initialize HTTP handlers and router
	handlers := server.NewHandlers(deps.Service, deps.Uploads, logger,
		server.WithMaxUploadBytes(cfg.MaxUploadBytes()),
	)
	router := server.NewRouter(handlers, logger, server.Config{
		AllowedOrigins: cfg.AllowedOrigins,
		SubmitLimiter:  server.NewSubmitLimiter(cfg.SubmitRatePerSec, cfg.SubmitBurst),
		Metrics:        deps.Metrics.Handler(),
		ObserveRequest: deps.Metrics.ObserveRequest,
	})

	// Submissions download media before answering. Synchronous renders lift
	// this deadline in their handler.
	writeTimeout := cfg.DownloadTimeout() + time.Minute

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       5 * time.Minute, // Large uploads
		WriteTimeout:      writeTimeout,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening",
			slog.String("addr", srv.Addr),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("server failed: %w", err)
		}
	}()

	// Wait for shutdown signal or error
	select {
	case <-ctx.Done():
		logger.Info("received shutdown signal")
	case err := <-errCh:
		return errors.Join(err, deps.Shutdown(context.Background()))
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	logger.Info("shutting down server...")
	// Stop the render service first so synchronous requests are released.
	svcErr := deps.Shutdown(shutdownCtx)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Join(fmt.Errorf("shutdown failed: %w", err), svcErr)
	}
	if svcErr != nil {
		return fmt.Errorf("shutdown failed: %w", svcErr)
	}

	logger.Info("server stopped gracefully")
	return nil
}
