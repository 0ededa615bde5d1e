package job

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Compile-time check that MemoryRegistry implements Registry.
var _ Registry = (*MemoryRegistry)(nil)

// MemoryRegistry is an in-memory implementation of Registry.
// The map is guarded by an RWMutex; each Job guards its own fields, so
// transitions on different jobs do not contend.
type MemoryRegistry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewMemoryRegistry creates a new in-memory job registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		jobs: make(map[string]*Job),
	}
}

// Create stores a clone of job.
func (r *MemoryRegistry) Create(_ context.Context, job *Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; ok {
		return ErrJobExists
	}
	r.jobs[job.ID] = job.Clone()
	return nil
}

// Get returns a clone of the job.
func (r *MemoryRegistry) Get(_ context.Context, id string) (*Job, error) {
	job, ok := r.lookup(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// Transition applies a transition under the job's own lock.
func (r *MemoryRegistry) Transition(_ context.Context, id string, status Status, p Payload) (*Job, error) {
	job, ok := r.lookup(id)
	if !ok {
		return nil, ErrJobNotFound
	}
	if err := job.Apply(status, p, time.Now().UTC()); err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// List returns clones of all jobs, oldest first.
func (r *MemoryRegistry) List(_ context.Context) ([]*Job, error) {
	r.mu.RLock()
	result := make([]*Job, 0, len(r.jobs))
	for _, job := range r.jobs {
		result = append(result, job.Clone())
	}
	r.mu.RUnlock()

	sortJobs(result)
	return result, nil
}

// Delete removes a job.
func (r *MemoryRegistry) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[id]; !ok {
		return ErrJobNotFound
	}
	delete(r.jobs, id)
	return nil
}

func (r *MemoryRegistry) lookup(id string) (*Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	job, ok := r.jobs[id]
	return job, ok
}

func sortJobs(jobs []*Job) {
	sort.Slice(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].ID < jobs[k].ID
	})
}
