// Package ingest runs queued notes and thinking cycles in the background.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
)

// Job types.
const (
	JobNote     = "note"
	JobThinking = "thinking"
)

// JobStore abstracts the job queue operations.
type JobStore interface {
	EnqueueJob(ctx context.Context, job storage.Job) error
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// NoteIngester ingests one note. *pipeline.Orchestrator satisfies it.
type NoteIngester interface {
	IngestNote(ctx context.Context, raw string) (pipeline.IngestResult, error)
}

// ThinkingRunner runs one thinking cycle. *thinking.Thinker satisfies it.
type ThinkingRunner interface {
	Run(ctx context.Context) (thinking.RunOutput, error)
}

// NotePayload is the payload of a note job.
type NotePayload struct {
	Text string `json:"text"`
}

// EnqueueNote queues raw for background ingestion and returns the job ID.
func EnqueueNote(ctx context.Context, store JobStore, raw string) (string, error) {
	if strings.TrimSpace(raw) == "" {
		return "", errors.New("note is empty")
	}
	payload, err := json.Marshal(NotePayload{Text: raw})
	if err != nil {
		return "", fmt.Errorf("encoding note payload: %w", err)
	}
	id := uuid.New().String()
	if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: JobNote, PayloadJSON: string(payload)}); err != nil {
		return "", err
	}
	return id, nil
}

// EnqueueThinking queues a thinking cycle and returns the job ID.
func EnqueueThinking(ctx context.Context, store JobStore) (string, error) {
	id := uuid.New().String()
	// Thinking runs are cheap to repeat, so one attempt is enough.
	if err := store.EnqueueJob(ctx, storage.Job{ID: id, Type: JobThinking, PayloadJSON: "{}", MaxAttempts: 1}); err != nil {
		return "", err
	}
	return id, nil
}

// Worker processes note and thinking jobs from the SQLite job queue.
type Worker struct {
	store   JobStore
	notes   NoteIngester
	thinker ThinkingRunner
	metrics *metrics.Collector
	poll    time.Duration
	logger  *slog.Logger
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(store JobStore, notes NoteIngester, thinker ThinkingRunner, m *metrics.Collector, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		store:   store,
		notes:   notes,
		thinker: thinker,
		metrics: m,
		poll:    pollInterval,
		logger:  slog.Default(),
	}
}

// Run polls for jobs until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.store.ClaimNextJob(ctx, []string{JobNote, JobThinking})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	if err := w.processJob(ctx, job); err != nil {
		w.logger.Warn("job failed", "job_id", job.ID, "type", job.Type, "error", err)
		w.metrics.RecordJob(job.Type, "failed")
		if failErr := w.store.FailJob(ctx, job.ID, err.Error()); failErr != nil {
			w.logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
		}
		return true, nil
	}

	if err := w.store.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	w.metrics.RecordJob(job.Type, "completed")
	return true, nil
}

func (w *Worker) processJob(ctx context.Context, job *storage.Job) error {
	switch job.Type {
	case JobNote:
		var payload NotePayload
		if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
			return fmt.Errorf("parsing payload: %w", err)
		}
		res, err := w.notes.IngestNote(ctx, payload.Text)
		if err != nil {
			return fmt.Errorf("ingesting note: %w", err)
		}
		w.logger.Debug("note job done", "job_id", job.ID, "card", res.Card.ID, "envelope", res.EnvelopeName)
		return nil
	case JobThinking:
		if w.thinker == nil {
			return errors.New("thinking is not configured")
		}
		_, err := w.thinker.Run(ctx)
		return err
	default:
		return fmt.Errorf("unknown job type %q", job.Type)
	}
}

// ScheduleThinking enqueues a thinking job every interval until ctx is
// cancelled. A non-positive interval disables scheduling.
func ScheduleThinking(ctx context.Context, store JobStore, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := EnqueueThinking(ctx, store); err != nil {
				slog.Warn("could not schedule thinking run", "error", err)
			}
		}
	}
}
