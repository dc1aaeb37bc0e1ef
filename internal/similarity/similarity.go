// Package similarity holds the pure scoring primitives shared by routing and
// profile maintenance: a lexical bag-of-tokens representation and cosine
// similarity over either that representation or dense embedding vectors.
package similarity

import (
	"math"
	"regexp"
	"strings"
)

var tokenPattern = regexp.MustCompile(`[a-z0-9]+`)

// Counts is a token multiset: token -> number of occurrences.
type Counts map[string]int

// LexicalEmbed lowercases text and counts its alphanumeric tokens.
func LexicalEmbed(text string) Counts {
	tokens := tokenPattern.FindAllString(strings.ToLower(text), -1)
	counts := make(Counts, len(tokens))
	for _, t := range tokens {
		counts[t]++
	}
	return counts
}

// CosineOverCounts returns the cosine similarity of two token multisets.
// It returns 0 when either side is empty or has zero norm.
func CosineOverCounts(a, b Counts) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	// Iterate the smaller map for the dot product.
	small, large := a, b
	if len(large) < len(small) {
		small, large = large, small
	}
	var dot float64
	for tok, n := range small {
		if m, ok := large[tok]; ok {
			dot += float64(n) * float64(m)
		}
	}
	na, nb := countsNorm(a), countsNorm(b)
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (na * nb)
}

// CosineOverVectors returns the cosine similarity of two dense vectors.
// It returns 0 when the lengths differ, either is empty, or either has zero norm.
func CosineOverVectors(a, b []float32) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, aSq, bSq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aSq += x * x
		bSq += y * y
	}
	if aSq == 0 || bSq == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(aSq) * math.Sqrt(bSq))
	if math.IsNaN(sim) || math.IsInf(sim, 0) {
		return 0
	}
	return sim
}

// LexicalSimilarity is CosineOverCounts applied to two raw texts.
func LexicalSimilarity(a, b string) float64 {
	return CosineOverCounts(LexicalEmbed(a), LexicalEmbed(b))
}

func countsNorm(c Counts) float64 {
	var sum float64
	for _, n := range c {
		sum += float64(n) * float64(n)
	}
	return math.Sqrt(sum)
}
