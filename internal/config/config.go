// Package config provides configuration loading from environment variables.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Static errors for configuration validation.
var (
	// ErrInvalidWorkerCount is returned when WORKER_COUNT is not positive.
	ErrInvalidWorkerCount = errors.New("config: WORKER_COUNT must be positive")
	// ErrInvalidQueueSize is returned when QUEUE_SIZE is not positive.
	ErrInvalidQueueSize = errors.New("config: QUEUE_SIZE must be positive")
	// ErrRenderCommandRequired is returned when RENDER_COMMAND is empty.
	ErrRenderCommandRequired = errors.New("config: RENDER_COMMAND is required")
	// ErrInvalidPort is returned when PORT is out of range.
	ErrInvalidPort = errors.New("config: PORT must be between 1 and 65535")
)

// Config holds all configuration for the application.
type Config struct {
	// Server settings
	Port           int      `env:"PORT, default=8080" json:"port"`
	AllowedOrigins []string `env:"ALLOWED_ORIGINS, default=*" json:"allowed_origins"`
	MaxUploadMB    int      `env:"MAX_UPLOAD_MB, default=100" json:"max_upload_mb"`

	// Submission throttling
	SubmitRatePerSec float64 `env:"SUBMIT_RATE_PER_SEC, default=5" json:"submit_rate_per_sec"`
	SubmitBurst      int     `env:"SUBMIT_BURST, default=10" json:"submit_burst"`

	// Storage settings
	UploadsDir string `env:"UPLOADS_DIR, default=./uploads" json:"uploads_dir"`
	OutputDir  string `env:"OUTPUT_DIR, default=./output" json:"output_dir"`
	DBPath     string `env:"DB_PATH" json:"db_path,omitempty"` // Empty keeps jobs in memory

	// Render settings
	RenderCommand    string   `env:"RENDER_COMMAND, default=node" json:"render_command"`
	RenderArgs       []string `env:"RENDER_ARGS, default=render.mjs" json:"render_args"`
	RenderWorkDir    string   `env:"RENDER_WORKDIR" json:"render_workdir,omitempty"`
	RenderEnv        []string `env:"RENDER_ENV" json:"-"` // KEY=value pairs added to the render process, may hold secrets
	RenderTimeoutSec int      `env:"RENDER_TIMEOUT_SEC, default=600" json:"render_timeout_sec"`
	RenderTailKB     int      `env:"RENDER_OUTPUT_TAIL_KB, default=64" json:"render_output_tail_kb"`
	WorkerCount      int      `env:"WORKER_COUNT, default=2" json:"worker_count"`
	QueueSize        int      `env:"QUEUE_SIZE, default=64" json:"queue_size"`

	// Media download settings
	MaxConcurrentDownloads int `env:"MAX_CONCURRENT_DOWNLOADS, default=3" json:"max_concurrent_downloads"`
	DownloadTimeoutSec     int `env:"DOWNLOAD_TIMEOUT_SEC, default=120" json:"download_timeout_sec"`
	DownloadRetries        int `env:"DOWNLOAD_RETRIES, default=0" json:"download_retries"` // 0 disables retries

	// Retention settings
	JobTTLHours      int    `env:"JOB_TTL_HOURS, default=0" json:"job_ttl_hours"` // 0 keeps jobs forever
	JobSweepSchedule string `env:"JOB_SWEEP_SCHEDULE, default=@every 10m" json:"job_sweep_schedule"`

	// Optional S3 settings
	S3Bucket           string `env:"S3_BUCKET" json:"s3_bucket,omitempty"`
	S3Region           string `env:"S3_REGION" json:"s3_region,omitempty"`
	S3Endpoint         string `env:"S3_ENDPOINT" json:"s3_endpoint,omitempty"`
	S3Prefix           string `env:"S3_PREFIX" json:"s3_prefix,omitempty"`
	AWSAccessKeyID     string `env:"AWS_ACCESS_KEY_ID" json:"-"`     // Masked in JSON
	AWSSecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" json:"-"` // Masked in JSON

	// Logging settings
	LogFormat string `env:"LOG_FORMAT, default=text" json:"log_format"` // "json" or "text"
	LogLevel  string `env:"LOG_LEVEL, default=info" json:"log_level"`   // "debug", "info", "warn", "error"
}

// S3Enabled returns true if S3 configuration is provided.
func (c *Config) S3Enabled() bool {
	return c.S3Bucket != "" && c.S3Region != ""
}

// RenderTimeout returns the per-render deadline. Zero disables it.
func (c *Config) RenderTimeout() time.Duration {
	return time.Duration(max(c.RenderTimeoutSec, 0)) * time.Second
}

// DownloadTimeout returns the per-download deadline.
func (c *Config) DownloadTimeout() time.Duration {
	return time.Duration(c.DownloadTimeoutSec) * time.Second
}

// JobTTL returns how long finished jobs are kept. Zero keeps them forever.
func (c *Config) JobTTL() time.Duration {
	return time.Duration(max(c.JobTTLHours, 0)) * time.Hour
}

// RenderTailBytes returns how much of each render output stream is kept.
func (c *Config) RenderTailBytes() int {
	return max(c.RenderTailKB, 0) << 10
}

// MaxUploadBytes returns the multipart upload limit.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.MaxUploadMB) << 20
}

// Load reads an optional dotenv file and then configuration from environment
// variables using go-envconfig. Variables already set in the environment win
// over the file. The file path comes from ENV_FILE, defaulting to ".env".
func Load() (*Config, error) {
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load %s: %w", envFile, err)
	}

	cfg := &Config{}
	if err := envconfig.Process(context.Background(), cfg); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return ErrInvalidPort
	}
	if c.WorkerCount <= 0 {
		return ErrInvalidWorkerCount
	}
	if c.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	if strings.TrimSpace(c.RenderCommand) == "" {
		return ErrRenderCommandRequired
	}
	return nil
}

// NewLogger creates a structured logger based on the configuration.
// When LogFormat is "json", it outputs JSON logs suitable for production.
// Otherwise, it outputs human-readable text logs.
func (c *Config) NewLogger() *slog.Logger {
	level := parseLogLevel(c.LogLevel)

	var handler slog.Handler
	if strings.ToLower(c.LogFormat) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}

	return slog.New(handler)
}

// String returns a string representation of the config with sensitive values masked.
func (c *Config) String() string {
	return fmt.Sprintf(
		"Config{Port: %d, UploadsDir: %s, OutputDir: %s, DBPath: %s, RenderCommand: %s, RenderArgs: %v, RenderTimeoutSec: %d, WorkerCount: %d, QueueSize: %d, MaxConcurrentDownloads: %d, JobTTLHours: %d, S3Bucket: %s, S3Region: %s, AWSAccessKeyID: %s, AWSSecretAccessKey: %s, LogFormat: %s, LogLevel: %s}",
		c.Port,
		c.UploadsDir,
		c.OutputDir,
		c.DBPath,
		c.RenderCommand,
		c.RenderArgs,
		c.RenderTimeoutSec,
		c.WorkerCount,
		c.QueueSize,
		c.MaxConcurrentDownloads,
		c.JobTTLHours,
		c.S3Bucket,
		c.S3Region,
		mask(c.AWSAccessKeyID),
		mask(c.AWSSecretAccessKey),
		c.LogFormat,
		c.LogLevel,
	)
}

func mask(s string) string {
	if s == "" {
		return ""
	}
	return "****"
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
