package job

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failRecorder struct {
	mu    sync.Mutex
	fails map[string]error
}

func (f *failRecorder) record(id string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails == nil {
		f.fails = make(map[string]error)
	}
	f.fails[id] = err
}

func (f *failRecorder) get(id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fails[id]
}

func TestQueue_ProcessesJobs(t *testing.T) {
	q := NewQueue(2, 8, nil)

	var (
		mu   sync.Mutex
		seen []string
	)
	q.Start(func(_ context.Context, id string) error {
		mu.Lock()
		seen = append(seen, id)
		mu.Unlock()
		return nil
	}, nil)
	defer q.Stop()

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, q.Enqueue(id))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	sort.Strings(seen)
	mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, seen)
}

func TestQueue_Full(t *testing.T) {
	q := NewQueue(1, 2, nil)

	require.NoError(t, q.Enqueue("a"))
	require.NoError(t, q.Enqueue("b"))
	assert.ErrorIs(t, q.Enqueue("c"), ErrQueueFull)
	assert.Equal(t, 2, q.Len())
}

func TestQueue_ErrorAndPanicGoToFailFunc(t *testing.T) {
	q := NewQueue(1, 4, nil)
	rec := &failRecorder{}

	q.Start(func(_ context.Context, id string) error {
		switch id {
		case "err":
			return errors.New("no task")
		case "panic":
			panic("boom")
		}
		return nil
	}, rec.record)
	defer q.Stop()

	require.NoError(t, q.Enqueue("err"))
	require.NoError(t, q.Enqueue("panic"))
	require.NoError(t, q.Enqueue("ok"))

	require.Eventually(t, func() bool {
		return rec.get("err") != nil && rec.get("panic") != nil
	}, time.Second, 5*time.Millisecond)

	assert.EqualError(t, rec.get("err"), "no task")
	assert.Contains(t, rec.get("panic").Error(), "worker panic: boom")
	assert.Nil(t, rec.get("ok"))
}

func TestQueue_StopCancelsInFlightAndReturnsLeftover(t *testing.T) {
	q := NewQueue(1, 8, nil)
	started := make(chan struct{})
	var cancelled bool

	q.Start(func(ctx context.Context, id string) error {
		if id == "running" {
			close(started)
			<-ctx.Done()
			cancelled = true
		}
		return nil
	}, nil)

	require.NoError(t, q.Enqueue("running"))
	<-started
	require.NoError(t, q.Enqueue("waiting-1"))
	require.NoError(t, q.Enqueue("waiting-2"))

	leftover := q.Stop()
	sort.Strings(leftover)

	assert.True(t, cancelled)
	assert.Equal(t, []string{"waiting-1", "waiting-2"}, leftover)
	assert.ErrorIs(t, q.Enqueue("late"), ErrQueueClosed)

	// Stop is idempotent.
	assert.Equal(t, leftover, q.Stop())
}

func TestQueue_StopWithoutStart(t *testing.T) {
	q := NewQueue(1, 4, nil)
	require.NoError(t, q.Enqueue("a"))

	assert.Equal(t, []string{"a"}, q.Stop())
}

func TestNewQueue_Defaults(t *testing.T) {
	q := NewQueue(0, 0, nil)
	assert.Equal(t, 1, q.workerCount)
	assert.Equal(t, 1, cap(q.pending))
}
