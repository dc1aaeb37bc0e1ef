// Package envelope decides which envelope an incoming note belongs to and
// keeps each envelope's profile (keywords, centroid, counts) and display
// name/summary in step with its member cards.
package envelope

import (
	"context"
	"strings"
	"unicode"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Repository is the persistence the router and maintainer need.
// *storage.Queries satisfies it, inside or outside a transaction.
type Repository interface {
	ListEnvelopes(ctx context.Context) ([]storage.Envelope, error)
	GetEnvelope(ctx context.Context, id string) (storage.Envelope, error)
	GetEnvelopeByName(ctx context.Context, name string) (storage.Envelope, error)
	CreateEnvelope(ctx context.Context, name, summary string) (storage.Envelope, error)
	UpdateProfile(ctx context.Context, id string, p storage.Profile) error
	UpdateSummary(ctx context.Context, id, name, summary string) error
	ListCardsByEnvelope(ctx context.Context, envelopeID string) ([]storage.Card, error)
}

// Similarity is the embedding surface used for scoring and centroids.
// *embedding.Adapter satisfies it.
type Similarity interface {
	Embed(ctx context.Context, text string) []float32
	EmbedBatch(ctx context.Context, texts []string) [][]float32
	SemanticSimilarity(ctx context.Context, a, b string) float64
}

// titleCase upper-cases the first letter of every run of letters and
// lower-cases the rest, so "q3_budget" style keywords read "Q3 Budget".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			if prevLetter {
				b.WriteRune(unicode.ToLower(r))
			} else {
				b.WriteRune(unicode.ToUpper(r))
			}
			prevLetter = true
			continue
		}
		b.WriteRune(r)
		prevLetter = false
	}
	return b.String()
}

// truncate cuts s to at most n characters.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// keywordName turns a keyword into a display name.
func keywordName(kw string) string {
	return titleCase(strings.ReplaceAll(kw, "_", " "))
}
