package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// DefaultSweepSchedule runs the janitor every ten minutes.
const DefaultSweepSchedule = "@every 10m"

// Janitor evicts finished jobs, and their output files, once they are older
// than a retention period.
type Janitor struct {
	service *RenderService
	ttl     time.Duration
	cron    *cron.Cron
	logger  *slog.Logger
	now     func() time.Time
}

// NewJanitor creates a Janitor that removes terminal jobs older than ttl.
func NewJanitor(service *RenderService, ttl time.Duration, logger *slog.Logger) *Janitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Janitor{
		service: service,
		ttl:     ttl,
		cron:    cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		logger:  logger,
		now:     time.Now,
	}
}

// Start schedules periodic sweeps. A non-positive ttl disables the janitor.
func (j *Janitor) Start(ctx context.Context, schedule string) error {
	if j.ttl <= 0 {
		j.logger.Info("job janitor disabled")
		return nil
	}
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	if _, err := j.cron.AddFunc(schedule, func() {
		if _, err := j.Sweep(ctx); err != nil {
			j.logger.Error("job sweep failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("schedule job sweep %q: %w", schedule, err)
	}
	j.cron.Start()
	j.logger.Info("job janitor started",
		slog.String("schedule", schedule),
		slog.Duration("ttl", j.ttl),
	)
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep deletes every terminal job that finished before now minus ttl and
// returns how many were removed.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	jobs, err := j.service.ListJobs(ctx)
	if err != nil {
		return 0, err
	}

	cutoff := j.now().Add(-j.ttl)
	removed := 0
	var errs []error
	for _, job := range jobs {
		if !job.Status.IsTerminal() || !finishedAt(job).Before(cutoff) {
			continue
		}
		if err := j.service.DeleteJob(ctx, job.ID); err != nil && !errors.Is(err, ErrJobNotFound) {
			errs = append(errs, fmt.Errorf("delete job %s: %w", job.ID, err))
			continue
		}
		removed++
	}

	if removed > 0 {
		j.logger.Info("expired jobs removed", slog.Int("count", removed))
	}
	return removed, errors.Join(errs...)
}

func finishedAt(j *Job) time.Time {
	switch {
	case !j.CompletedAt.IsZero():
		return j.CompletedAt
	case !j.FailedAt.IsZero():
		return j.FailedAt
	default:
		return j.UpdatedAt
	}
}
