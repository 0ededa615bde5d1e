package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
)

var (
	// ErrQueueFull is returned when the pending buffer has no room.
	ErrQueueFull = errors.New("job: queue is full")
	// ErrQueueClosed is returned when enqueuing after Stop.
	ErrQueueClosed = errors.New("job: queue is closed")
)

// Executor processes one job. A returned error or a panic means the job
// could not be driven to a terminal state and is handed to the FailFunc.
type Executor func(ctx context.Context, jobID string) error

// FailFunc records a job the executor could not finish.
type FailFunc func(jobID string, cause error)

// Queue is a fixed pool of workers fed from a bounded channel of job IDs.
type Queue struct {
	workerCount int
	logger      *slog.Logger

	mu       sync.RWMutex
	started  bool
	stopped  bool
	pending  chan string
	leftover []string

	ctx      context.Context
	cancel   context.CancelFunc
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewQueue creates a queue with workerCount workers and room for size
// pending jobs.
func NewQueue(workerCount, size int, logger *slog.Logger) *Queue {
	if workerCount <= 0 {
		workerCount = 1
	}
	if size <= 0 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Queue{
		workerCount: workerCount,
		logger:      logger,
		pending:     make(chan string, size),
		ctx:         ctx,
		cancel:      cancel,
		stopCh:      make(chan struct{}),
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (q *Queue) Start(exec Executor, fail FailFunc) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.stopped {
		return
	}
	q.started = true

	for range q.workerCount {
		q.wg.Add(1)
		go q.worker(exec, fail)
	}
}

// Enqueue schedules a job without blocking.
func (q *Queue) Enqueue(jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.stopped {
		return ErrQueueClosed
	}
	select {
	case q.pending <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Len returns the number of jobs waiting for a worker.
func (q *Queue) Len() int {
	return len(q.pending)
}

// Stop cancels in-flight work, waits for the workers to return, and
// returns the IDs of jobs that were never started.
func (q *Queue) Stop() []string {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.mu.Unlock()

		q.cancel()
		close(q.stopCh)
		q.wg.Wait()

	drain:
		for {
			select {
			case id := <-q.pending:
				q.leftover = append(q.leftover, id)
			default:
				break drain
			}
		}
	})
	return q.leftover
}

func (q *Queue) worker(exec Executor, fail FailFunc) {
	defer q.wg.Done()

	for {
		select {
		case <-q.stopCh:
			return
		case id := <-q.pending:
			if q.ctx.Err() != nil {
				q.mu.Lock()
				q.leftover = append(q.leftover, id)
				q.mu.Unlock()
				continue
			}
			if err := q.run(exec, id); err != nil {
				q.logger.Error("job execution failed",
					slog.String("job_id", id),
					slog.String("error", err.Error()),
				)
				if fail != nil {
					fail(id, err)
				}
			}
		}
	}
}

func (q *Queue) run(exec Executor, id string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			q.logger.Error("panic in render worker",
				slog.String("job_id", id),
				slog.Any("panic", rec),
				slog.String("stack", string(debug.Stack())),
			)
			err = fmt.Errorf("worker panic: %v", rec)
		}
	}()
	return exec(q.ctx, id)
}
