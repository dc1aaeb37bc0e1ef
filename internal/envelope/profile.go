package envelope

import (
	"context"
	"sort"
	"strings"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/similarity"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

const (
	profileKeywordLimit = 12
	keywordsPerCard     = 8
)

// ProfileBuilder recomputes an envelope profile from its member cards.
type ProfileBuilder struct {
	sim Similarity
}

// NewProfileBuilder creates a ProfileBuilder.
func NewProfileBuilder(sim Similarity) *ProfileBuilder {
	return &ProfileBuilder{sim: sim}
}

// Build derives the profile of an envelope whose members are cards, which
// must be ordered most recent first. The result replaces any stored profile.
func (b *ProfileBuilder) Build(ctx context.Context, cards []storage.Card) storage.Profile {
	if len(cards) == 0 {
		return storage.Profile{Keywords: []string{}}
	}

	texts := make([]string, 0, len(cards))
	for _, c := range cards {
		if c.RawText != "" {
			texts = append(texts, c.RawText)
		}
	}

	var last *storage.Card
	for i := range cards {
		if !cards[i].CreatedAt.IsZero() && (last == nil || cards[i].CreatedAt.After(last.CreatedAt)) {
			last = &cards[i]
		}
	}

	p := storage.Profile{
		Keywords:  ProfileKeywords(cards),
		Centroid:  similarity.Mean(b.sim.EmbedBatch(ctx, texts)),
		CardCount: len(cards),
	}
	if last != nil {
		t := last.CreatedAt
		p.LastCardAt = &t
	}
	return p
}

// ProfileKeywords weights each card's first keywords by recency (newest 1.0,
// oldest about 0.5) and returns the heaviest, ties in first-seen order.
func ProfileKeywords(cards []storage.Card) []string {
	total := float64(len(cards))
	weights := make(map[string]float64)
	var order []string

	for idx, c := range cards {
		w := 1.0 - (float64(idx)/total)*0.5
		n := 0
		for _, kw := range c.Keywords {
			kw = strings.ToLower(strings.TrimSpace(kw))
			if kw == "" {
				continue
			}
			if n == keywordsPerCard {
				break
			}
			n++
			if _, seen := weights[kw]; !seen {
				order = append(order, kw)
			}
			weights[kw] += w
		}
	}

	sort.SliceStable(order, func(i, j int) bool {
		return weights[order[i]] > weights[order[j]]
	})
	if len(order) > profileKeywordLimit {
		order = order[:profileKeywordLimit]
	}
	if order == nil {
		order = []string{}
	}
	return order
}
