package envelope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// DefaultThreshold is the minimum score for assigning to an existing envelope.
const DefaultThreshold = 0.55

const seedSummaryLen = 180

// Action is what the router did with a note.
type Action string

const (
	ActionCreate Action = "create"
	ActionAssign Action = "assign"
)

// Input is the part of an extracted note the router uses.
type Input struct {
	RawText     string
	Description string
	CardType    storage.CardType
	Keywords    []string
	Assignee    string
	// Embedding is the note's vector when the caller computed it ahead of
	// time. Nil means Route embeds RawText itself.
	Embedding []float32
}

// Decision is the routing outcome. Reason always states the threshold and
// the score it was compared against.
type Decision struct {
	Action   Action
	Envelope storage.Envelope
	Score    float64
	Reason   string
	// MatchReason is the component breakdown of the best candidate.
	MatchReason string
}

// Router picks or creates the envelope for each note.
type Router struct {
	scorer    *Scorer
	sim       Similarity
	threshold float64
	metrics   *metrics.Collector
}

// NewRouter creates a Router.
func NewRouter(scorer *Scorer, sim Similarity, threshold float64, m *metrics.Collector) *Router {
	return &Router{scorer: scorer, sim: sim, threshold: threshold, metrics: m}
}

// Route scores in against every envelope in repo and either assigns it to
// the best one or creates (or reuses by name) a new one. Storage errors are
// returned unchanged so the caller can roll back.
func (r *Router) Route(ctx context.Context, repo Repository, in Input) (Decision, error) {
	envelopes, err := repo.ListEnvelopes(ctx)
	if err != nil {
		return Decision{}, fmt.Errorf("listing envelopes: %w", err)
	}

	emb := in.Embedding
	if emb == nil {
		emb = r.sim.Embed(ctx, in.RawText)
	}
	note := Note{
		RawText:   in.RawText,
		Keywords:  in.Keywords,
		Assignee:  in.Assignee,
		Embedding: emb,
	}
	match := r.scorer.ChooseBest(ctx, note, envelopes)

	var d Decision
	if match.Envelope == nil || match.Score < r.threshold {
		env, err := r.createOrReuse(ctx, repo, SeedName(in), truncate(in.Description, seedSummaryLen))
		if err != nil {
			return Decision{}, err
		}
		best := "none"
		if match.Envelope != nil {
			best = match.Envelope.Name
		}
		d = Decision{
			Action:   ActionCreate,
			Envelope: env,
			Score:    match.Score,
			Reason: fmt.Sprintf("created new envelope since threshold(%.2f) not met (score=%.2f with best matching envelope=%s)",
				r.threshold, match.Score, best),
			MatchReason: match.Reason,
		}
	} else {
		d = Decision{
			Action:   ActionAssign,
			Envelope: *match.Envelope,
			Score:    match.Score,
			Reason: fmt.Sprintf("assigned to existing envelope since threshold(%.2f) met (score=%.2f with best matching envelope=%s)",
				r.threshold, match.Score, match.Envelope.Name),
			MatchReason: match.Reason,
		}
	}

	r.metrics.RecordRouting(string(d.Action), d.Score)
	slog.Debug("routed note", "action", d.Action, "envelope", d.Envelope.Name, "score", d.Score, "reason", d.Reason)
	return d, nil
}

// Embed returns the note vector Route would compute for text.
func (r *Router) Embed(ctx context.Context, text string) []float32 {
	return r.sim.Embed(ctx, text)
}

// SeedName derives a new envelope's name from the note's first keyword, or
// from its card type when it has none.
func SeedName(in Input) string {
	base := string(in.CardType)
	if len(in.Keywords) > 0 {
		base = in.Keywords[0]
	}
	return keywordName(base)
}

func (r *Router) createOrReuse(ctx context.Context, repo Repository, name, summary string) (storage.Envelope, error) {
	existing, err := repo.GetEnvelopeByName(ctx, name)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return storage.Envelope{}, fmt.Errorf("looking up envelope %q: %w", name, err)
	}

	env, err := repo.CreateEnvelope(ctx, name, summary)
	if errors.Is(err, storage.ErrDuplicateName) {
		return repo.GetEnvelopeByName(ctx, name)
	}
	if err != nil {
		return storage.Envelope{}, fmt.Errorf("creating envelope %q: %w", name, err)
	}
	return env, nil
}
