package usercontext

import (
	"context"
	"fmt"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

const (
	// MaxEvidence caps the cards sent to the model per update.
	MaxEvidence = 12

	latestCards     = 6
	activeEnvelopes = 8
)

// Evidence is one card as presented to the context model.
type Evidence struct {
	CardID       string           `json:"card_id"`
	CardType     storage.CardType `json:"card_type"`
	Description  string           `json:"description"`
	Assignee     string           `json:"assignee,omitempty"`
	Keywords     []string         `json:"keywords"`
	DueAt        *time.Time       `json:"due_at,omitempty"`
	EnvelopeID   string           `json:"envelope_id,omitempty"`
	EnvelopeName string           `json:"envelope_name,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

// EvidenceStore is the read side evidence selection needs.
type EvidenceStore interface {
	ListCards(ctx context.Context, limit int) ([]storage.Card, error)
	ListActiveEnvelopes(ctx context.Context, limit int) ([]storage.Envelope, error)
	ListCardsByEnvelope(ctx context.Context, envelopeID string) ([]storage.Card, error)
	GetEnvelope(ctx context.Context, id string) (storage.Envelope, error)
}

// Importance ranks a card for inclusion: actionable, dated, assigned and
// well-described cards first.
func Importance(c storage.Card) float64 {
	var s float64
	switch c.CardType {
	case storage.CardTask:
		s = 2.0
	case storage.CardReminder:
		s = 1.5
	}
	if c.DueAt != nil {
		s += 1.0
	}
	if c.Assignee != "" {
		s += 0.6
	}
	s += 0.15 * float64(min(len(c.Keywords), 5))
	return s
}

// SelectEvidence returns the latest cards followed by the most important
// card of each of the most active envelopes, without duplicates and capped
// at limit. It returns nothing when there are no cards at all.
func SelectEvidence(ctx context.Context, store EvidenceStore, limit int) ([]Evidence, error) {
	latest, err := store.ListCards(ctx, latestCards)
	if err != nil {
		return nil, fmt.Errorf("listing latest cards: %w", err)
	}
	if len(latest) == 0 {
		return nil, nil
	}

	envs, err := store.ListActiveEnvelopes(ctx, activeEnvelopes)
	if err != nil {
		return nil, fmt.Errorf("listing active envelopes: %w", err)
	}
	names := make(map[string]string, len(envs))
	selected := append([]storage.Card(nil), latest...)
	for _, env := range envs {
		names[env.ID] = env.Name
		cards, err := store.ListCardsByEnvelope(ctx, env.ID)
		if err != nil {
			return nil, fmt.Errorf("listing cards of envelope %s: %w", env.ID, err)
		}
		if top, ok := mostImportant(cards); ok {
			selected = append(selected, top)
		}
	}

	seen := make(map[string]bool, len(selected))
	var out []Evidence
	for _, c := range selected {
		if seen[c.ID] {
			continue
		}
		seen[c.ID] = true

		name, ok := names[c.EnvelopeID]
		if !ok && c.EnvelopeID != "" {
			env, err := store.GetEnvelope(ctx, c.EnvelopeID)
			if err != nil {
				return nil, fmt.Errorf("loading envelope %s: %w", c.EnvelopeID, err)
			}
			name = env.Name
			names[c.EnvelopeID] = name
		}
		out = append(out, Evidence{
			CardID:       c.ID,
			CardType:     c.CardType,
			Description:  c.Description,
			Assignee:     c.Assignee,
			Keywords:     c.Keywords,
			DueAt:        c.DueAt,
			EnvelopeID:   c.EnvelopeID,
			EnvelopeName: name,
			CreatedAt:    c.CreatedAt,
		})
		if len(out) == limit {
			break
		}
	}
	return out, nil
}

// mostImportant picks the highest-importance card; cards must be ordered
// most recent first so recency breaks ties.
func mostImportant(cards []storage.Card) (storage.Card, bool) {
	if len(cards) == 0 {
		return storage.Card{}, false
	}
	best, bestScore := cards[0], Importance(cards[0])
	for _, c := range cards[1:] {
		if s := Importance(c); s > bestScore {
			best, bestScore = c, s
		}
	}
	return best, true
}
