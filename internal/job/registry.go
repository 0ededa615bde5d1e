package job

import (
	"context"
	"errors"
)

var (
	// ErrJobNotFound is returned when a job cannot be found by ID.
	ErrJobNotFound = errors.New("job: not found")
	// ErrJobExists is returned when creating a job whose ID is taken.
	ErrJobExists = errors.New("job: already exists")
)

// Registry owns job records. It acts as a port in the hexagonal
// architecture pattern. All returned jobs are copies.
type Registry interface {
	// Create stores a new pending job.
	// Returns ErrJobExists if the ID is already registered.
	Create(ctx context.Context, job *Job) error

	// Get retrieves a job by its unique identifier.
	// Returns ErrJobNotFound if the job does not exist.
	Get(ctx context.Context, id string) (*Job, error)

	// Transition atomically moves a job to status, recording p on terminal
	// transitions, and returns the updated job.
	// Returns ErrInvalidTransition if the edge is not allowed.
	Transition(ctx context.Context, id string, status Status, p Payload) (*Job, error)

	// List returns all jobs ordered by creation time.
	List(ctx context.Context) ([]*Job, error)

	// Delete removes a job.
	// Returns ErrJobNotFound if the job does not exist.
	Delete(ctx context.Context, id string) error
}
