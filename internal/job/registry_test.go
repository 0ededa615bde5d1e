package job

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

// testRegistry runs the behavior every Registry implementation shares.
func testRegistry(t *testing.T, newRegistry func(t *testing.T) Registry) {
	t.Run("create and get", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		job.TemplateID = "VideoImagemTituloSubtituloMusicaInstagramPost"
		job.Width = 1080
		job.Height = 1080
		job.DurationFrames = 300

		if err := reg.Create(ctx, job); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		got, err := reg.Get(ctx, job.ID)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.ID != job.ID || got.Status != StatusPending {
			t.Errorf("unexpected job %+v", got)
		}
		if got.TemplateID != job.TemplateID || got.Width != 1080 || got.Height != 1080 || got.DurationFrames != 300 {
			t.Errorf("fields not stored: %+v", got)
		}
		if !got.CreatedAt.Equal(job.CreatedAt) {
			t.Errorf("CreatedAt = %v, want %v", got.CreatedAt, job.CreatedAt)
		}
	})

	t.Run("duplicate id", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		if err := reg.Create(ctx, job); !errors.Is(err, ErrJobExists) {
			t.Errorf("expected ErrJobExists, got %v", err)
		}
	})

	t.Run("get unknown", func(t *testing.T) {
		reg := newRegistry(t)
		for _, id := range []string{"", "nonexistent", "../../etc"} {
			if _, err := reg.Get(context.Background(), id); !errors.Is(err, ErrJobNotFound) {
				t.Errorf("Get(%q): expected ErrJobNotFound, got %v", id, err)
			}
		}
	})

	t.Run("returns clones", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		job.Progress = 50
		got, _ := reg.Get(ctx, job.ID)
		got.Progress = 99

		again, _ := reg.Get(ctx, job.ID)
		if again.Progress != 0 {
			t.Error("modifying a job outside the registry should not affect it")
		}
	})

	t.Run("full lifecycle", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		got, err := reg.Transition(ctx, job.ID, StatusProcessing, Payload{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusProcessing || got.StartedAt.IsZero() || got.Progress != ProgressProcessing {
			t.Errorf("unexpected processing job %+v", got)
		}

		got, err = reg.Transition(ctx, job.ID, StatusCompleted, Payload{OutputName: job.ID + ".mp4", OutputURL: "https://b/x"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Status != StatusCompleted || got.OutputName != job.ID+".mp4" || got.OutputURL != "https://b/x" {
			t.Errorf("unexpected completed job %+v", got)
		}

		stored, _ := reg.Get(ctx, job.ID)
		if stored.Status != StatusCompleted || stored.CompletedAt.IsZero() || stored.Progress != ProgressCompleted {
			t.Errorf("transition not persisted: %+v", stored)
		}
	})

	t.Run("failure payload", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)
		_, _ = reg.Transition(ctx, job.ID, StatusProcessing, Payload{})

		got, err := reg.Transition(ctx, job.ID, StatusFailed, Payload{Error: "exit 1"})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Error != "exit 1" || got.FailedAt.IsZero() || got.OutputName != "" {
			t.Errorf("unexpected failed job %+v", got)
		}
	})

	t.Run("invalid transitions", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		if _, err := reg.Transition(ctx, job.ID, StatusCompleted, Payload{OutputName: "x.mp4"}); !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("pending -> completed: expected ErrInvalidTransition, got %v", err)
		}
		_, _ = reg.Transition(ctx, job.ID, StatusProcessing, Payload{})
		_, _ = reg.Transition(ctx, job.ID, StatusFailed, Payload{Error: "boom"})

		for _, to := range []Status{StatusPending, StatusProcessing, StatusCompleted, StatusFailed} {
			if _, err := reg.Transition(ctx, job.ID, to, Payload{OutputName: "x.mp4"}); !errors.Is(err, ErrInvalidTransition) {
				t.Errorf("failed -> %s: expected ErrInvalidTransition, got %v", to, err)
			}
		}

		stored, _ := reg.Get(ctx, job.ID)
		if stored.Status != StatusFailed || stored.Error != "boom" {
			t.Errorf("terminal job changed: %+v", stored)
		}
	})

	t.Run("transition unknown", func(t *testing.T) {
		reg := newRegistry(t)
		if _, err := reg.Transition(context.Background(), "nope", StatusProcessing, Payload{}); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("list ordered by creation", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()

		jobs, err := reg.List(ctx)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(jobs) != 0 {
			t.Errorf("expected 0 jobs, got %d", len(jobs))
		}

		base := time.Now().UTC()
		for i := range 3 {
			job := NewWithID(fmt.Sprintf("job-%d", i))
			job.CreatedAt = base.Add(time.Duration(2-i) * time.Second)
			_ = reg.Create(ctx, job)
		}

		jobs, _ = reg.List(ctx)
		if len(jobs) != 3 {
			t.Fatalf("expected 3 jobs, got %d", len(jobs))
		}
		if jobs[0].ID != "job-2" || jobs[2].ID != "job-0" {
			t.Errorf("unexpected order %s, %s, %s", jobs[0].ID, jobs[1].ID, jobs[2].ID)
		}
	})

	t.Run("delete", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		if err := reg.Delete(ctx, job.ID); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if _, err := reg.Get(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
		if err := reg.Delete(ctx, job.ID); !errors.Is(err, ErrJobNotFound) {
			t.Errorf("expected ErrJobNotFound, got %v", err)
		}
	})

	t.Run("concurrent transitions of one job", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		job := New()
		_ = reg.Create(ctx, job)

		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			winners int
		)
		for range 10 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := reg.Transition(ctx, job.ID, StatusProcessing, Payload{}); err == nil {
					mu.Lock()
					winners++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()

		if winners != 1 {
			t.Errorf("expected exactly one successful transition, got %d", winners)
		}
	})

	t.Run("independent jobs", func(t *testing.T) {
		reg := newRegistry(t)
		ctx := context.Background()
		a, b := New(), New()
		_ = reg.Create(ctx, a)
		_ = reg.Create(ctx, b)

		_, _ = reg.Transition(ctx, a.ID, StatusProcessing, Payload{})
		_, _ = reg.Transition(ctx, a.ID, StatusFailed, Payload{Error: "a broke"})

		gotB, _ := reg.Get(ctx, b.ID)
		if gotB.Status != StatusPending || gotB.Error != "" {
			t.Errorf("job B affected by job A: %+v", gotB)
		}
	})
}
