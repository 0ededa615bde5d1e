package bootstrap

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maauso/videogen-api/internal/config"
	"github.com/maauso/videogen-api/internal/job"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		UploadsDir:       filepath.Join(dir, "uploads"),
		OutputDir:        filepath.Join(dir, "output"),
		RenderCommand:    "node",
		RenderArgs:       []string{"render.mjs"},
		RenderTimeoutSec: 60,
		WorkerCount:      1,
		QueueSize:        4,
		JobTTLHours:      1,
		JobSweepSchedule: "@every 1h",
	}
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewDependencies_InMemory(t *testing.T) {
	cfg := testConfig(t)
	ctx := context.Background()

	deps, err := NewDependencies(ctx, cfg, discardLogger())
	require.NoError(t, err)
	require.NoError(t, deps.Start(ctx))

	jobs, err := deps.Service.ListJobs(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)
	assert.NotNil(t, deps.Metrics.Handler())
	assert.True(t, filepath.IsAbs(deps.Uploads.Path("x.png")))

	require.NoError(t, deps.Shutdown(ctx))
}

func TestNewDependencies_RecoversInterruptedJobs(t *testing.T) {
	cfg := testConfig(t)
	cfg.DBPath = filepath.Join(t.TempDir(), "jobs.db")
	ctx := context.Background()

	// Leave a job mid-render as a crashed process would.
	reg, err := job.NewSQLiteRegistry(cfg.DBPath)
	require.NoError(t, err)
	stuck := job.NewWithID("job-stuck")
	require.NoError(t, reg.Create(ctx, stuck))
	_, err = reg.Transition(ctx, stuck.ID, job.StatusProcessing, job.Payload{})
	require.NoError(t, err)
	require.NoError(t, reg.Close())

	deps, err := NewDependencies(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Shutdown(context.Background()) })

	got, err := deps.Service.GetJob(ctx, stuck.ID)
	require.NoError(t, err)
	assert.Equal(t, job.StatusFailed, got.Status)
	assert.Equal(t, interruptedReason, got.Error)
}

func TestNewDependencies_BadSchedule(t *testing.T) {
	cfg := testConfig(t)
	cfg.JobSweepSchedule = "not a schedule"
	ctx := context.Background()

	deps, err := NewDependencies(ctx, cfg, discardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = deps.Shutdown(context.Background()) })

	assert.Error(t, deps.Start(ctx))
}
