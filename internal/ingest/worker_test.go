package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
)

type mockIngester struct {
	mu       sync.Mutex
	notes    []string
	ingestFn func(raw string) error
}

func (m *mockIngester) IngestNote(_ context.Context, raw string) (pipeline.IngestResult, error) {
	if m.ingestFn != nil {
		if err := m.ingestFn(raw); err != nil {
			return pipeline.IngestResult{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.notes = append(m.notes, raw)
	return pipeline.IngestResult{}, nil
}

type mockThinker struct{ runs int }

func (m *mockThinker) Run(context.Context) (thinking.RunOutput, error) {
	m.runs++
	return thinking.RunOutput{}, nil
}

// testClock is advanced by hand so retry backoff can be skipped.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func openTestStore(t *testing.T) (*storage.Store, *testClock) {
	t.Helper()
	s, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	clock := &testClock{t: time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)}
	s.SetClock(clock.Now)
	return s, clock
}

func TestWorker_ProcessesNoteJob(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	id, err := EnqueueNote(ctx, store, "Call Sarah about the budget")
	if err != nil {
		t.Fatalf("EnqueueNote: %v", err)
	}

	ing := &mockIngester{}
	w := NewWorker(store, ing, nil, nil, 0)

	didWork, err := w.RunOnce(ctx)
	if err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if !didWork {
		t.Fatal("RunOnce returned false, expected true")
	}
	if len(ing.notes) != 1 || ing.notes[0] != "Call Sarah about the budget" {
		t.Errorf("ingested %v, want the queued note", ing.notes)
	}

	job, err := store.GetJob(ctx, id)
	if err != nil {
		t.Fatalf("GetJob: %v", err)
	}
	if job.Status != "completed" {
		t.Errorf("status = %q, want completed", job.Status)
	}

	didWork, err = w.RunOnce(ctx)
	if err != nil || didWork {
		t.Errorf("RunOnce on empty queue = %v, %v; want false, nil", didWork, err)
	}
}

func TestWorker_ProcessesThinkingJob(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	if _, err := EnqueueThinking(ctx, store); err != nil {
		t.Fatalf("EnqueueThinking: %v", err)
	}

	th := &mockThinker{}
	w := NewWorker(store, &mockIngester{}, th, nil, 0)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	if th.runs != 1 {
		t.Errorf("thinking runs = %d, want 1", th.runs)
	}
}

func TestWorker_RetryOnFailure(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()
	id, err := EnqueueNote(ctx, store, "retry content")
	if err != nil {
		t.Fatalf("EnqueueNote: %v", err)
	}

	calls := 0
	w := NewWorker(store, &mockIngester{
		ingestFn: func(string) error {
			calls++
			if calls <= 2 {
				return fmt.Errorf("transient error %d", calls)
			}
			return nil
		},
	}, nil, nil, 0)

	// 1st attempt fails and is rescheduled.
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 1 error: %v", err)
	}
	job, _ := store.GetJob(ctx, id)
	if job.Status != "pending" || job.Attempts != 1 {
		t.Errorf("after 1st fail: status=%q attempts=%d, want pending/1", job.Status, job.Attempts)
	}
	if job.LastError != "ingesting note: transient error 1" {
		t.Errorf("last error = %q", job.LastError)
	}

	// Still backing off.
	if didWork, _ := w.RunOnce(ctx); didWork {
		t.Fatal("job claimed before its backoff elapsed")
	}

	clock.Advance(time.Minute)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 2 error: %v", err)
	}
	clock.Advance(time.Minute)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce 3 error: %v", err)
	}

	job, _ = store.GetJob(ctx, id)
	if job.Status != "completed" {
		t.Errorf("after 3rd attempt: status=%q, want completed", job.Status)
	}
}

func TestWorker_MaxRetriesExceeded(t *testing.T) {
	store, clock := openTestStore(t)
	ctx := context.Background()
	id, err := EnqueueNote(ctx, store, "max retry content")
	if err != nil {
		t.Fatalf("EnqueueNote: %v", err)
	}

	w := NewWorker(store, &mockIngester{
		ingestFn: func(string) error { return errors.New("permanent error") },
	}, nil, nil, 0)

	for i := 1; i <= 3; i++ {
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce %d error: %v", i, err)
		}
		if !didWork {
			t.Fatalf("RunOnce %d returned false", i)
		}
		clock.Advance(time.Minute)
	}

	job, _ := store.GetJob(ctx, id)
	if job.Status != "failed" {
		t.Errorf("final status = %q, want %q", job.Status, "failed")
	}
}

func TestWorker_ThinkingWithoutRunnerFails(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()
	id, _ := EnqueueThinking(ctx, store)

	w := NewWorker(store, &mockIngester{}, nil, nil, 0)
	if _, err := w.RunOnce(ctx); err != nil {
		t.Fatalf("RunOnce error: %v", err)
	}
	job, _ := store.GetJob(ctx, id)
	if job.Status != "failed" {
		t.Errorf("status = %q, want failed after its single attempt", job.Status)
	}
}

func TestEnqueueNote_RejectsEmpty(t *testing.T) {
	store, _ := openTestStore(t)
	if _, err := EnqueueNote(context.Background(), store, "  "); err == nil {
		t.Fatal("expected error for empty note")
	}
}

func TestWorker_ConcurrentEnqueue(t *testing.T) {
	store, _ := openTestStore(t)
	ctx := context.Background()

	const goroutines = 5
	const jobsPerGoroutine = 10
	const total = goroutines * jobsPerGoroutine

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for j := 0; j < jobsPerGoroutine; j++ {
				if _, err := EnqueueNote(ctx, store, fmt.Sprintf("note %d-%d", g, j)); err != nil {
					t.Errorf("EnqueueNote %d-%d: %v", g, j, err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	ing := &mockIngester{}
	w := NewWorker(store, ing, nil, nil, 0)

	deadline := time.After(5 * time.Second)
	processed := 0
	for processed < total {
		select {
		case <-deadline:
			t.Fatalf("timed out after processing %d/%d jobs", processed, total)
		default:
		}
		didWork, err := w.RunOnce(ctx)
		if err != nil {
			t.Fatalf("RunOnce error at job %d: %v", processed, err)
		}
		if !didWork {
			t.Fatalf("queue drained early at %d/%d", processed, total)
		}
		processed++
	}

	seen := map[string]bool{}
	for _, n := range ing.notes {
		seen[n] = true
	}
	if len(seen) != total {
		t.Errorf("ingested %d distinct notes, want %d", len(seen), total)
	}
}

func TestScheduleThinking(t *testing.T) {
	store, _ := openTestStore(t)
	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Millisecond)
	defer cancel()

	ScheduleThinking(ctx, store, 20*time.Millisecond)

	job, err := store.ClaimNextJob(context.Background(), []string{JobThinking})
	if err != nil {
		t.Fatalf("ClaimNextJob: %v", err)
	}
	if job == nil {
		t.Fatal("no thinking job was scheduled")
	}
}
