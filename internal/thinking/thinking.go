package thinking

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
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Suggestion statuses.
const (
	StatusOpen      = "open"
	StatusAccepted  = "accepted"
	StatusDismissed = "dismissed"
)

// RuleSetVersion identifies the rule set in run output.
const RuleSetVersion = "thinking.rules.v1"

const (
	maxCards     = 200
	maxEnvelopes = 50
)

// ErrInvalidStatus is returned for an unknown suggestion status.
var ErrInvalidStatus = errors.New("invalid suggestion status")

// Store is the persistence a thinking run needs. *storage.Queries satisfies it.
type Store interface {
	ListCards(ctx context.Context, limit int) ([]storage.Card, error)
	ListActiveEnvelopes(ctx context.Context, limit int) ([]storage.Envelope, error)
	ListCardsByEnvelope(ctx context.Context, envelopeID string) ([]storage.Card, error)
	CreateRun(ctx context.Context, id string) (storage.ThinkingRun, error)
	CompleteRun(ctx context.Context, id, summaryJSON string) error
	FailRun(ctx context.Context, id, errText string) error
	FindOpenSuggestion(ctx context.Context, fingerprint string) (storage.Suggestion, error)
	AddSuggestion(ctx context.Context, s storage.Suggestion) (storage.Suggestion, error)
	GetSuggestion(ctx context.Context, id string) (storage.Suggestion, error)
	UpdateSuggestionStatus(ctx context.Context, id, status string) error
}

// InputStats counts what a run looked at.
type InputStats struct {
	CardsScanned     int `json:"cards_scanned"`
	EnvelopesScanned int `json:"envelopes_scanned"`
}

// RunOutput is the result of one thinking cycle, as written to disk.
type RunOutput struct {
	RunID        string      `json:"run_id"`
	GeneratedAt  time.Time   `json:"generated_at"`
	RuleSet      string      `json:"rule_set"`
	InputStats   InputStats  `json:"input_stats"`
	Suggestions  []Candidate `json:"suggestions"`
	Skipped      int         `json:"skipped_duplicates"`
	ArtifactPath string      `json:"-"`
}

// Thinker runs thinking cycles.
type Thinker struct {
	store     Store
	outputDir string
	loc       *time.Location
	metrics   *metrics.Collector
	now       func() time.Time
}

// New creates a Thinker that writes artifacts to outputDir ("" disables
// artifacts) and buckets due dates by day in loc.
func New(store Store, outputDir string, loc *time.Location, m *metrics.Collector) *Thinker {
	if loc == nil {
		loc = time.UTC
	}
	return &Thinker{store: store, outputDir: outputDir, loc: loc, metrics: m, now: time.Now}
}

// Run scans the store, records new suggestions and writes the run artifact.
// Candidates matching an open suggestion's fingerprint are skipped.
func (t *Thinker) Run(ctx context.Context) (RunOutput, error) {
	now := t.now().UTC()
	runID := fmt.Sprintf("thinking-%s-%s", now.Format("20060102150405"), strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	if _, err := t.store.CreateRun(ctx, runID); err != nil {
		return RunOutput{}, err
	}

	out, err := t.run(ctx, runID, now)
	if err != nil {
		if ferr := t.store.FailRun(ctx, runID, err.Error()); ferr != nil {
			slog.Warn("could not mark thinking run failed", "run", runID, "error", ferr)
		}
		return RunOutput{}, err
	}
	return out, nil
}

func (t *Thinker) run(ctx context.Context, runID string, now time.Time) (RunOutput, error) {
	cards, err := t.store.ListCards(ctx, maxCards)
	if err != nil {
		return RunOutput{}, err
	}
	envs, err := t.store.ListActiveEnvelopes(ctx, maxEnvelopes)
	if err != nil {
		return RunOutput{}, err
	}
	groups := make([]EnvelopeCards, 0, len(envs))
	for _, e := range envs {
		members, err := t.store.ListCardsByEnvelope(ctx, e.ID)
		if err != nil {
			return RunOutput{}, err
		}
		groups = append(groups, EnvelopeCards{Envelope: e, Cards: members})
	}

	out := RunOutput{
		RunID:       runID,
		GeneratedAt: now,
		RuleSet:     RuleSetVersion,
		InputStats:  InputStats{CardsScanned: len(cards), EnvelopesScanned: len(envs)},
		Suggestions: []Candidate{},
	}
	for _, c := range BuildCandidates(cards, groups, t.loc) {
		_, err := t.store.FindOpenSuggestion(ctx, c.Fingerprint)
		if err == nil {
			out.Skipped++
			continue
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return RunOutput{}, err
		}

		refs, err := json.Marshal(c.Refs)
		if err != nil {
			return RunOutput{}, fmt.Errorf("encoding suggestion refs: %w", err)
		}
		if _, err := t.store.AddSuggestion(ctx, storage.Suggestion{
			RunID:           runID,
			Type:            c.Type,
			Title:           c.Title,
			Message:         c.Message,
			Priority:        c.Priority,
			Score:           c.Score,
			RelatedRefsJSON: string(refs),
			Fingerprint:     c.Fingerprint,
		}); err != nil {
			return RunOutput{}, err
		}
		t.metrics.RecordSuggestion(c.Type)
		out.Suggestions = append(out.Suggestions, c)
	}

	summary, err := json.Marshal(map[string]any{
		"input_stats":        out.InputStats,
		"suggestions":        len(out.Suggestions),
		"skipped_duplicates": out.Skipped,
	})
	if err != nil {
		return RunOutput{}, fmt.Errorf("encoding run summary: %w", err)
	}

	if t.outputDir != "" {
		path, err := WriteArtifact(out, t.outputDir)
		if err != nil {
			return RunOutput{}, err
		}
		out.ArtifactPath = path
	}
	if err := t.store.CompleteRun(ctx, runID, string(summary)); err != nil {
		return RunOutput{}, err
	}

	slog.Info("thinking run completed",
		"run", runID,
		"suggestions", len(out.Suggestions),
		"skipped", out.Skipped,
		"artifact", out.ArtifactPath,
	)
	return out, nil
}

// SetStatus moves a suggestion to accepted, dismissed or back to open.
func SetStatus(ctx context.Context, store Store, id, status string) (storage.Suggestion, error) {
	switch status {
	case StatusOpen, StatusAccepted, StatusDismissed:
	default:
		return storage.Suggestion{}, fmt.Errorf("%w: %q", ErrInvalidStatus, status)
	}
	if err := store.UpdateSuggestionStatus(ctx, id, status); err != nil {
		return storage.Suggestion{}, err
	}
	return store.GetSuggestion(ctx, id)
}
