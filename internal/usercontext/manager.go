package usercontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Store is the persistence the manager needs. *storage.Queries satisfies it.
type Store interface {
	EvidenceStore
	GetContextSnapshot(ctx context.Context) (storage.ContextSnapshot, error)
	SaveContextSnapshot(ctx context.Context, contextJSON, focusSummary string) (storage.ContextSnapshot, error)
}

// Result reports what an update did.
type Result struct {
	Updated       bool
	EvidenceCount int
	Message       string
}

// Snapshot is the decoded user context.
type Snapshot struct {
	Context      Context   `json:"context"`
	FocusSummary string    `json:"focus_summary"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Manager updates the stored snapshot and caches reads of it.
type Manager struct {
	updater *Updater
	metrics *metrics.Collector

	// mu guards cached and gen. It is never held across a store call, so a
	// writer inside a transaction can always invalidate.
	mu     sync.RWMutex
	cached *Snapshot
	gen    uint64
}

// NewManager creates a Manager.
func NewManager(updater *Updater, m *metrics.Collector) *Manager {
	return &Manager{updater: updater, metrics: m}
}

// Update rebuilds the context from fresh evidence. Model failures keep the
// previous snapshot and are reported in Result, not as errors; only storage
// failures are returned.
func (m *Manager) Update(ctx context.Context, store Store) (Result, error) {
	previous := emptyJSON()
	snap, err := store.GetContextSnapshot(ctx)
	switch {
	case err == nil:
		previous = snap.ContextJSON
	case !errors.Is(err, storage.ErrNotFound):
		return Result{}, err
	}

	evidence, err := SelectEvidence(ctx, store, MaxEvidence)
	if err != nil {
		return Result{}, err
	}
	if len(evidence) == 0 {
		return Result{Message: "context unchanged: no evidence"}, nil
	}

	out, err := m.updater.Update(ctx, previous, evidence)
	if err != nil {
		slog.Warn("context update failed; keeping previous snapshot", "error", err)
		m.metrics.RecordFallback("context")
		return Result{EvidenceCount: len(evidence), Message: "context unchanged: llm update failed, previous snapshot kept"}, nil
	}

	b, err := json.Marshal(out.Context)
	if err != nil {
		return Result{}, fmt.Errorf("encoding context: %w", err)
	}
	m.Invalidate()
	if _, err := store.SaveContextSnapshot(ctx, string(b), out.FocusSummary); err != nil {
		return Result{}, err
	}
	return Result{
		Updated:       true,
		EvidenceCount: len(evidence),
		Message:       fmt.Sprintf("context updated with %d evidence cards", len(evidence)),
	}, nil
}

// Invalidate drops the cached snapshot.
func (m *Manager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.gen++
	m.mu.Unlock()
}

// Current returns the stored context, or an empty one if none was saved.
func (m *Manager) Current(ctx context.Context, store Store) (Snapshot, error) {
	m.mu.RLock()
	if m.cached != nil {
		s := *m.cached
		m.mu.RUnlock()
		return s, nil
	}
	gen := m.gen
	m.mu.RUnlock()

	raw, err := store.GetContextSnapshot(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return Snapshot{Context: Empty()}, nil
	}
	if err != nil {
		return Snapshot{}, err
	}
	var c Context
	if err := json.Unmarshal([]byte(raw.ContextJSON), &c); err != nil {
		return Snapshot{}, fmt.Errorf("decoding context snapshot: %w", err)
	}
	s := Snapshot{Context: c.fill(), FocusSummary: raw.FocusSummary, UpdatedAt: raw.UpdatedAt}

	// An invalidation during the read means s may already be stale.
	m.mu.Lock()
	if m.gen == gen {
		m.cached = &s
	}
	m.mu.Unlock()
	return s, nil
}
