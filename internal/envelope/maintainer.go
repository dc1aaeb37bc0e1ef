package envelope

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Maintainer refreshes an envelope after a card joins it: profile first,
// then name and summary.
type Maintainer struct {
	profiles *ProfileBuilder
	refiner  *Refiner
}

// NewMaintainer creates a Maintainer.
func NewMaintainer(profiles *ProfileBuilder, refiner *Refiner) *Maintainer {
	return &Maintainer{profiles: profiles, refiner: refiner}
}

// Refresh recomputes the profile of envelope id from all its member cards
// and rewrites its name and summary. It returns the updated envelope.
func (m *Maintainer) Refresh(ctx context.Context, repo Repository, id string) (storage.Envelope, error) {
	env, err := repo.GetEnvelope(ctx, id)
	if err != nil {
		return storage.Envelope{}, fmt.Errorf("loading envelope %s: %w", id, err)
	}
	cards, err := repo.ListCardsByEnvelope(ctx, id)
	if err != nil {
		return storage.Envelope{}, fmt.Errorf("listing cards of envelope %s: %w", id, err)
	}

	p := m.profiles.Build(ctx, cards)
	if err := repo.UpdateProfile(ctx, id, p); err != nil {
		return storage.Envelope{}, fmt.Errorf("updating profile of envelope %s: %w", id, err)
	}
	env.Keywords, env.Centroid, env.CardCount, env.LastCardAt = p.Keywords, p.Centroid, p.CardCount, p.LastCardAt

	ref := m.refiner.Refine(ctx, env, cards)
	err = repo.UpdateSummary(ctx, id, ref.Name, ref.Summary)
	if errors.Is(err, storage.ErrDuplicateName) {
		// Another envelope already carries the refined name; keep ours.
		slog.Info("refined envelope name taken; keeping current name", "envelope", env.Name, "refined", ref.Name)
		ref.Name = env.Name
		err = repo.UpdateSummary(ctx, id, ref.Name, ref.Summary)
	}
	if err != nil {
		return storage.Envelope{}, fmt.Errorf("updating summary of envelope %s: %w", id, err)
	}
	env.Name, env.Summary = ref.Name, ref.Summary
	return env, nil
}
