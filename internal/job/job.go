// Package job provides the Job aggregate for render jobs, the registries that
// own job records, and the RenderService that drives jobs through the render
// process.
package job

import (
	"errors"
	"sync"
	"time"

	"github.com/maauso/videogen-api/internal/job/id"
)

// Status represents the current state of a Job.
type Status string

const (
	// StatusPending indicates the job is waiting for a render worker.
	StatusPending Status = "pending"
	// StatusProcessing indicates the render process is running.
	StatusProcessing Status = "processing"
	// StatusCompleted indicates the render process exited successfully.
	StatusCompleted Status = "completed"
	// StatusFailed indicates the render could not be produced.
	StatusFailed Status = "failed"
)

// IsTerminal reports whether no further transition is possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Coarse progress milestones.
const (
	ProgressPending    = 0
	ProgressProcessing = 10
	ProgressCompleted  = 100
)

// MaxErrorLength bounds the error detail stored on a failed job.
const MaxErrorLength = 2000

var (
	// ErrInvalidTransition is returned when an invalid state transition is attempted.
	ErrInvalidTransition = errors.New("job: invalid state transition")
	// ErrMissingOutput is returned when completing a job without an output name.
	ErrMissingOutput = errors.New("job: completed job requires an output name")
)

// validTransitions defines which state transitions are allowed.
var validTransitions = map[Status][]Status{
	StatusPending:    {StatusProcessing},
	StatusProcessing: {StatusCompleted, StatusFailed},
	StatusCompleted:  {},
	StatusFailed:     {},
}

// CanTransition checks if a transition from one status to another is valid.
func CanTransition(from, to Status) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Payload carries the data recorded by a terminal transition.
type Payload struct {
	OutputName string
	OutputURL  string
	Error      string
}

// Job is a single render request tracked from submission to a terminal state.
type Job struct {
	mu sync.RWMutex

	ID             string
	Status         Status
	Progress       int
	TemplateID     string
	Width          int
	Height         int
	DurationFrames int
	// OutputName is the file name in the output area. Set iff completed.
	OutputName string
	// OutputURL is the published object URL, when publishing is configured.
	OutputURL string
	// Error is the failure detail. Set iff failed.
	Error string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time
	FailedAt    time.Time
}

// New creates a pending Job with a generated ID.
func New() *Job {
	return NewWithID(id.Generate())
}

// NewWithID creates a pending Job with the given ID.
func NewWithID(jobID string) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:        jobID,
		Status:    StatusPending,
		Progress:  ProgressPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Apply performs a transition to status at the given time, recording p on
// terminal transitions.
func (j *Job) Apply(status Status, p Payload, now time.Time) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.applyLocked(status, p, now)
}

func (j *Job) applyLocked(status Status, p Payload, now time.Time) error {
	if !CanTransition(j.Status, status) {
		return ErrInvalidTransition
	}

	switch status {
	case StatusProcessing:
		j.StartedAt = now
		j.raiseProgressLocked(ProgressProcessing)
	case StatusCompleted:
		if p.OutputName == "" {
			return ErrMissingOutput
		}
		j.OutputName = p.OutputName
		j.OutputURL = p.OutputURL
		j.CompletedAt = now
		j.raiseProgressLocked(ProgressCompleted)
	case StatusFailed:
		j.Error = TruncateError(p.Error)
		if j.Error == "" {
			j.Error = "render failed"
		}
		j.FailedAt = now
	}

	j.Status = status
	j.UpdatedAt = now
	return nil
}

// raiseProgressLocked keeps progress monotonic and within 0-100.
func (j *Job) raiseProgressLocked(progress int) {
	progress = max(0, min(progress, 100))
	if progress > j.Progress {
		j.Progress = progress
	}
}

// GetStatus returns the current job status (thread-safe).
func (j *Job) GetStatus() Status {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.Status
}

// IsTerminal returns true if the job is in a terminal state.
func (j *Job) IsTerminal() bool {
	return j.GetStatus().IsTerminal()
}

// Clone creates a copy of the job for safe reads.
func (j *Job) Clone() *Job {
	j.mu.RLock()
	defer j.mu.RUnlock()

	return &Job{
		ID:             j.ID,
		Status:         j.Status,
		Progress:       j.Progress,
		TemplateID:     j.TemplateID,
		Width:          j.Width,
		Height:         j.Height,
		DurationFrames: j.DurationFrames,
		OutputName:     j.OutputName,
		OutputURL:      j.OutputURL,
		Error:          j.Error,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
		StartedAt:      j.StartedAt,
		CompletedAt:    j.CompletedAt,
		FailedAt:       j.FailedAt,
	}
}

// TruncateError shortens msg to its last MaxErrorLength runes. Render
// failures end with the engine's final diagnostic, so the head is dropped.
func TruncateError(msg string) string {
	r := []rune(msg)
	if len(r) <= MaxErrorLength {
		return msg
	}
	return "..." + string(r[len(r)-MaxErrorLength+3:])
}
