package envelope

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/similarity"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Weights scale the three score components. They need not sum to 1.
type Weights struct {
	Embedding float64
	Keyword   float64
	Entity    float64
}

// DefaultWeights returns the stock weighting.
func DefaultWeights() Weights {
	return Weights{Embedding: 0.40, Keyword: 0.35, Entity: 0.25}
}

// Note is what the scorer knows about an incoming note.
type Note struct {
	RawText  string
	Keywords []string
	Assignee string
	// Embedding is the note's model vector, if one could be computed.
	Embedding []float32
}

// Match is the best-scoring envelope for a note. Envelope is nil when there
// were no candidates.
type Match struct {
	Envelope *storage.Envelope
	Score    float64
	Reason   string
}

// Scorer rates how well a note fits an envelope.
type Scorer struct {
	sim     Similarity
	weights Weights
}

// NewScorer creates a Scorer.
func NewScorer(sim Similarity, w Weights) *Scorer {
	return &Scorer{sim: sim, weights: w}
}

// Score returns the weighted relevance of env for n and a reason listing
// each component.
func (s *Scorer) Score(ctx context.Context, n Note, env storage.Envelope) (float64, string) {
	envText := strings.TrimSpace(env.Name + " " + env.Summary)

	var sim float64
	if len(n.Embedding) > 0 && len(env.Centroid) > 0 {
		sim = similarity.CosineOverVectors(n.Embedding, env.Centroid)
	} else {
		sim = s.sim.SemanticSimilarity(ctx, n.RawText, envText)
	}

	envKeywords := make([]string, 0, len(env.Keywords))
	for _, k := range env.Keywords {
		if k != "" {
			envKeywords = append(envKeywords, strings.ToLower(k))
		}
	}
	if len(envKeywords) == 0 {
		envKeywords = strings.Fields(strings.ToLower(envText))
	}
	kscore := jaccard(n.Keywords, envKeywords)

	var bonus float64
	if a := strings.ToLower(strings.TrimSpace(n.Assignee)); a != "" {
		if strings.Contains(strings.Join(envKeywords, " "), a) ||
			strings.Contains(strings.ToLower(env.Summary), a) ||
			strings.Contains(strings.ToLower(env.Name), a) {
			bonus = 1
		}
	}

	score := s.weights.Embedding*sim + s.weights.Keyword*kscore + s.weights.Entity*bonus
	return score, fmt.Sprintf("embedding=%.2f, keyword=%.2f, assignee=%.2f", sim, kscore, bonus)
}

// ChooseBest scores every candidate and returns the highest. On an exact tie
// the candidate listed first wins.
func (s *Scorer) ChooseBest(ctx context.Context, n Note, envelopes []storage.Envelope) Match {
	if len(envelopes) == 0 {
		return Match{Score: 0, Reason: "no envelopes available"}
	}

	best := -1.0
	var bestIdx int
	var bestReason string
	for i := range envelopes {
		score, reason := s.Score(ctx, n, envelopes[i])
		slog.Debug("scored envelope", "envelope", envelopes[i].Name, "score", score, "reason", reason)
		if score > best {
			best, bestIdx, bestReason = score, i, reason
		}
	}
	env := envelopes[bestIdx]
	return Match{Envelope: &env, Score: max(best, 0), Reason: bestReason}
}

// jaccard returns |a ∩ b| / |a ∪ b| over the distinct entries of a and b,
// or 0 if either is empty.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	sa := make(map[string]struct{}, len(a))
	for _, x := range a {
		sa[x] = struct{}{}
	}
	sb := make(map[string]struct{}, len(b))
	for _, x := range b {
		sb[x] = struct{}{}
	}
	inter := 0
	for x := range sa {
		if _, ok := sb[x]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	return float64(inter) / float64(union)
}
