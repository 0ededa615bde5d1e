package job

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maauso/videogen-api/internal/media"
	"github.com/maauso/videogen-api/internal/render"
	"github.com/maauso/videogen-api/internal/storage"
	"github.com/maauso/videogen-api/internal/template"
)

var (
	// ErrOutputNotFound is returned when a job has no retrievable output.
	ErrOutputNotFound = errors.New("job: output not found")
	// ErrJobActive is returned when deleting a job that has not finished.
	ErrJobActive = errors.New("job: job is still active")
	// ErrRenderFailed wraps the cause of a failed synchronous render.
	ErrRenderFailed = errors.New("job: render failed")
	// ErrShuttingDown is recorded on jobs abandoned by Shutdown.
	ErrShuttingDown = errors.New("service shutting down")
)

// OutputExtension is appended to the job ID to name its output file.
const OutputExtension = ".mp4"

// Resolver resolves media references into local files.
type Resolver interface {
	ResolveAll(ctx context.Context, refs []media.Reference) ([]*media.Resolved, error)
}

// Dispatcher runs one render.
type Dispatcher interface {
	Dispatch(ctx context.Context, task render.Task) (*render.Result, error)
}

// Observer is notified about job lifecycle events.
type Observer interface {
	JobSubmitted(templateID string)
	JobFinished(templateID string, status Status, elapsed time.Duration)
}

// RenderRequest is a render submission. Media references that are absent
// are simply not passed to the composition.
type RenderRequest struct {
	Title           string
	Subtitle        string
	BackgroundColor string
	TextColor       string
	ContentKind     template.ContentKind
	FormatKey       string
	// DurationSeconds <= 0 selects the template's default duration.
	DurationSeconds float64

	Image media.Reference
	Video media.Reference
	Audio media.Reference
	Logo  media.Reference
}

func (r RenderRequest) properties() render.Properties {
	return render.Properties{
		Title:           r.Title,
		Subtitle:        r.Subtitle,
		BackgroundColor: r.BackgroundColor,
		TextColor:       r.TextColor,
	}.WithDefaults()
}

// task is the in-memory work item for a pending job.
type task struct {
	render render.Task
	done   chan error
}

// RenderService accepts render requests, tracks them as jobs and drives them
// through the render process on a worker pool.
type RenderService struct {
	registry   Registry
	resolver   Resolver
	dispatcher Dispatcher
	outputs    storage.Storage
	queue      *Queue
	observer   Observer
	logger     *slog.Logger

	mu     sync.Mutex
	tasks  map[string]*task
	closed atomic.Bool
}

// ServiceOption configures a RenderService.
type ServiceOption func(*RenderService)

// WithServiceLogger sets the logger.
func WithServiceLogger(l *slog.Logger) ServiceOption {
	return func(s *RenderService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithObserver registers a lifecycle observer such as a metrics recorder.
func WithObserver(o Observer) ServiceOption {
	return func(s *RenderService) { s.observer = o }
}

// NewRenderService creates a RenderService. Call Start to launch the workers.
func NewRenderService(
	registry Registry,
	resolver Resolver,
	dispatcher Dispatcher,
	outputs storage.Storage,
	queue *Queue,
	opts ...ServiceOption,
) *RenderService {
	s := &RenderService{
		registry:   registry,
		resolver:   resolver,
		dispatcher: dispatcher,
		outputs:    outputs,
		queue:      queue,
		logger:     slog.Default(),
		tasks:      make(map[string]*task),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start launches the worker pool.
func (s *RenderService) Start() {
	s.queue.Start(s.process, s.abandon)
}

// Submit resolves media, creates a pending job and schedules it.
// A media download failure is returned before any job exists.
func (s *RenderService) Submit(ctx context.Context, req RenderRequest) (*Job, error) {
	j, _, err := s.submit(ctx, req, false)
	return j, err
}

// Render submits req and waits for the job to reach a terminal state.
// A failed render is returned as an error wrapping ErrRenderFailed and,
// when the render process ran, a *render.ProcessError.
func (s *RenderService) Render(ctx context.Context, req RenderRequest) (*Job, error) {
	j, done, err := s.submit(ctx, req, true)
	if err != nil {
		return nil, err
	}

	var cause error
	select {
	case cause = <-done:
	case <-ctx.Done():
		return j, ctx.Err()
	}

	final, err := s.registry.Get(context.WithoutCancel(ctx), j.ID)
	if err != nil {
		return nil, err
	}
	if final.Status == StatusFailed {
		if cause == nil {
			cause = errors.New(final.Error)
		}
		return final, fmt.Errorf("%w: %w", ErrRenderFailed, cause)
	}
	return final, nil
}

func (s *RenderService) submit(ctx context.Context, req RenderRequest, wait bool) (*Job, chan error, error) {
	if s.closed.Load() {
		return nil, nil, ErrShuttingDown
	}

	props := req.properties()
	if err := props.Validate(); err != nil {
		return nil, nil, err
	}

	resolved, err := s.resolver.ResolveAll(ctx, []media.Reference{req.Image, req.Video, req.Audio, req.Logo})
	if err != nil {
		s.logger.Warn("media resolution failed", slog.String("error", err.Error()))
		return nil, nil, err
	}
	props.ImageURL = filename(resolved, 0)
	props.VideoURL = filename(resolved, 1)
	props.AudioURL = filename(resolved, 2)
	props.LogoURL = filename(resolved, 3)

	tpl := template.Select(req.ContentKind, req.FormatKey)
	frames := tpl.DefaultDurationFrames
	if req.DurationSeconds > 0 {
		frames = template.Frames(req.DurationSeconds, tpl.Geometry.FPS)
	}

	j := New()
	j.TemplateID = tpl.ID
	j.Width = tpl.Geometry.Width
	j.Height = tpl.Geometry.Height
	j.DurationFrames = frames

	t := &task{
		render: render.Task{
			TemplateID:     tpl.ID,
			Properties:     props,
			DurationFrames: frames,
			OutputPath:     s.outputs.Path(j.ID + OutputExtension),
		},
	}
	if wait {
		t.done = make(chan error, 1)
	}

	if err := s.registry.Create(ctx, j); err != nil {
		return nil, nil, fmt.Errorf("create job: %w", err)
	}

	s.mu.Lock()
	s.tasks[j.ID] = t
	s.mu.Unlock()

	if err := s.queue.Enqueue(j.ID); err != nil {
		s.abandon(j.ID, err)
		return nil, nil, err
	}

	s.logger.Info("job submitted",
		slog.String("job_id", j.ID),
		slog.String("template_id", tpl.ID),
		slog.Int("width", j.Width),
		slog.Int("height", j.Height),
		slog.Int("frames", frames),
	)
	if s.observer != nil {
		s.observer.JobSubmitted(tpl.ID)
	}

	return j.Clone(), t.done, nil
}

func filename(resolved []*media.Resolved, i int) string {
	if i >= len(resolved) || resolved[i] == nil {
		return ""
	}
	return resolved[i].Filename
}

// process is the worker body for one job. Errors returned here are handed
// to abandon by the queue, which also releases any synchronous waiter.
func (s *RenderService) process(ctx context.Context, jobID string) error {
	t := s.peekTask(jobID)
	if t == nil {
		return fmt.Errorf("no pending task for job %s", jobID)
	}

	// Terminal writes must land even when ctx is cancelled by shutdown.
	store := context.WithoutCancel(ctx)

	j, err := s.registry.Transition(store, jobID, StatusProcessing, Payload{})
	if err != nil {
		return fmt.Errorf("start job: %w", err)
	}

	logger := s.logger.With(slog.String("job_id", jobID), slog.String("template_id", j.TemplateID))
	logger.Info("job processing")

	start := time.Now()
	_, renderErr := s.dispatcher.Dispatch(ctx, t.render)

	var (
		status  = StatusCompleted
		payload Payload
	)
	if renderErr != nil {
		status = StatusFailed
		payload.Error = renderErr.Error()
		if ctx.Err() != nil && s.closed.Load() {
			payload.Error = ErrShuttingDown.Error()
		}
	} else {
		payload.OutputName = jobID + OutputExtension
		payload.OutputURL = s.publish(store, logger, payload.OutputName)
	}

	if _, err := s.registry.Transition(store, jobID, status, payload); err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	s.takeTask(jobID)
	t.notify(renderErr)

	elapsed := time.Since(start)
	if renderErr != nil {
		logger.Warn("job failed", slog.Duration("duration", elapsed), slog.String("error", renderErr.Error()))
	} else {
		logger.Info("job completed", slog.Duration("duration", elapsed))
	}
	if s.observer != nil {
		s.observer.JobFinished(j.TemplateID, status, elapsed)
	}
	return nil
}

// publish uploads the output to object storage when configured and returns
// its URL. Publishing failures leave the job completed with its local output.
func (s *RenderService) publish(ctx context.Context, logger *slog.Logger, name string) string {
	f, err := s.outputs.Open(ctx, name)
	if err != nil {
		logger.Warn("render output missing after success", slog.String("error", err.Error()))
		return ""
	}
	defer func() { _ = f.Close() }()

	url, err := s.outputs.Publish(ctx, name, f)
	if err != nil {
		if !errors.Is(err, storage.ErrS3NotConfigured) {
			logger.Warn("failed to publish output", slog.String("error", err.Error()))
		}
		return ""
	}
	logger.Info("output published", slog.String("url", url))
	return url
}

// abandon fails a job that will never be rendered. Pending jobs pass through
// processing so the recorded status sequence stays well-formed.
func (s *RenderService) abandon(jobID string, cause error) {
	t := s.takeTask(jobID)
	if t != nil {
		defer t.notify(cause)
	}

	ctx := context.Background()
	j, err := s.registry.Get(ctx, jobID)
	if err == nil && j.Status == StatusPending {
		j, err = s.registry.Transition(ctx, jobID, StatusProcessing, Payload{})
	}
	if err != nil || j.Status.IsTerminal() {
		if err != nil {
			s.logger.Error("failed to record abandoned job",
				slog.String("job_id", jobID),
				slog.String("error", err.Error()),
			)
		}
		return
	}

	if _, err := s.registry.Transition(ctx, jobID, StatusFailed, Payload{Error: cause.Error()}); err != nil {
		s.logger.Error("failed to record abandoned job",
			slog.String("job_id", jobID),
			slog.String("error", err.Error()),
		)
		return
	}
	s.logger.Warn("job abandoned",
		slog.String("job_id", jobID),
		slog.String("error", cause.Error()),
	)
	if s.observer != nil {
		s.observer.JobFinished(j.TemplateID, StatusFailed, 0)
	}
}

func (s *RenderService) peekTask(jobID string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tasks[jobID]
}

func (s *RenderService) takeTask(jobID string) *task {
	s.mu.Lock()
	defer s.mu.Unlock()
	t := s.tasks[jobID]
	delete(s.tasks, jobID)
	return t
}

func (t *task) notify(err error) {
	if t.done != nil {
		t.done <- err
	}
}

// GetJob returns a job by ID.
func (s *RenderService) GetJob(ctx context.Context, jobID string) (*Job, error) {
	return s.registry.Get(ctx, jobID)
}

// QueueDepth returns the number of jobs waiting for a worker.
func (s *RenderService) QueueDepth() int {
	return s.queue.Len()
}

// ListJobs returns every known job, oldest first.
func (s *RenderService) ListJobs(ctx context.Context) ([]*Job, error) {
	return s.registry.List(ctx)
}

// OpenOutput returns the rendered video of a completed job.
// The caller is responsible for closing the returned ReadCloser.
func (s *RenderService) OpenOutput(ctx context.Context, jobID string) (io.ReadCloser, *Job, error) {
	j, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}
	if j.Status != StatusCompleted {
		return nil, j, ErrOutputNotFound
	}
	rc, err := s.outputs.Open(ctx, j.OutputName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, j, ErrOutputNotFound
		}
		return nil, j, err
	}
	return rc, j, nil
}

// DeleteJob removes a finished job and its output file.
func (s *RenderService) DeleteJob(ctx context.Context, jobID string) error {
	j, err := s.registry.Get(ctx, jobID)
	if err != nil {
		return err
	}
	if !j.Status.IsTerminal() {
		return ErrJobActive
	}
	if j.OutputName != "" {
		if err := s.outputs.Remove(ctx, j.OutputName); err != nil {
			return fmt.Errorf("remove output: %w", err)
		}
	}
	if err := s.registry.Delete(ctx, jobID); err != nil {
		return err
	}
	s.logger.Info("job deleted", slog.String("job_id", jobID))
	return nil
}

// Shutdown stops accepting work, cancels in-flight renders and fails every
// job still waiting in the queue.
func (s *RenderService) Shutdown(ctx context.Context) error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}

	stopped := make(chan []string, 1)
	go func() { stopped <- s.queue.Stop() }()

	select {
	case leftover := <-stopped:
		for _, jobID := range leftover {
			s.abandon(jobID, ErrShuttingDown)
		}
		if len(leftover) > 0 {
			s.logger.Info("abandoned queued jobs", slog.Int("count", len(leftover)))
		}
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shutdown: %w", ctx.Err())
	}
}
