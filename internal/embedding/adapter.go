// Package embedding produces dense vectors for note text through a remote
// embedding model when one is configured and reachable, and degrades to
// lexical similarity when it is not.
package embedding

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/similarity"
)

// Embedder is the remote embedding call. *llm.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config selects the embedding endpoint. Provider "auto" (or empty) borrows
// LLMProvider when that is a model provider, and means lexical otherwise.
type Config struct {
	Provider    string
	Model       string
	APIKey      string
	BaseURL     string
	LLMProvider string
}

// ResolveProvider applies the "auto" rule.
func ResolveProvider(cfg Config) string {
	p := llm.NormalizeProvider(cfg.Provider)
	if p != "" && p != llm.ProviderAuto {
		return p
	}
	if lp := llm.NormalizeProvider(cfg.LLMProvider); llm.IsModelProvider(lp) {
		return lp
	}
	return llm.ProviderLexical
}

// Endpoint resolves cfg into the endpoint embeddings are requested from.
func (cfg Config) Endpoint() llm.Endpoint {
	return llm.Endpoint{
		Provider: ResolveProvider(cfg),
		Model:    cfg.Model,
		APIKey:   cfg.APIKey,
		BaseURL:  cfg.BaseURL,
	}
}

// IsModelUsable reports whether cfg names a remote model that can be called.
func IsModelUsable(cfg Config) bool {
	return cfg.Endpoint().Usable()
}

// Adapter embeds text for one resolved configuration.
type Adapter struct {
	endpoint llm.Endpoint
	client   Embedder
	cache    *Cache
	metrics  *metrics.Collector
}

// NewAdapter builds an Adapter for cfg. When the model is not usable the
// adapter never makes network calls.
func NewAdapter(cfg Config, cache *Cache, m *metrics.Collector) *Adapter {
	ep := cfg.Endpoint()
	var client Embedder
	if ep.Usable() {
		client = llm.NewClient(ep)
	}
	return NewAdapterWithClient(ep, client, cache, m)
}

// NewAdapterWithClient builds an Adapter around an existing Embedder.
func NewAdapterWithClient(ep llm.Endpoint, client Embedder, cache *Cache, m *metrics.Collector) *Adapter {
	if cache == nil {
		cache = NewCache()
	}
	return &Adapter{endpoint: ep, client: client, cache: cache, metrics: m}
}

// Usable reports whether Embed can return model vectors.
func (a *Adapter) Usable() bool {
	return a.client != nil && a.endpoint.Usable()
}

// Endpoint returns the resolved endpoint.
func (a *Adapter) Endpoint() llm.Endpoint { return a.endpoint }

// Embed returns the model embedding for text, or nil when no model vector is
// available. It never returns an error: a failed call marks the endpoint as
// broken so later calls skip the network entirely.
func (a *Adapter) Embed(ctx context.Context, text string) []float32 {
	if !a.Usable() {
		a.metrics.RecordEmbedding("skipped")
		return nil
	}
	if v, ok := a.cache.get(a.endpoint, text); ok {
		a.metrics.RecordEmbedding("hit")
		return v
	}
	if a.cache.hasFailed(a.endpoint) {
		a.metrics.RecordEmbedding("skipped")
		return nil
	}

	v, err := a.client.Embed(ctx, text)
	if err != nil || len(v) == 0 {
		slog.Warn("model embedding failed; falling back to lexical similarity",
			"provider", a.endpoint.Provider, "model", a.endpoint.Model, "error", err)
		a.cache.markFailed(a.endpoint)
		a.metrics.RecordEmbedding("failure")
		return nil
	}
	a.cache.put(a.endpoint, text, v)
	a.metrics.RecordEmbedding("miss")
	return v
}

// EmbedBatch embeds texts, concurrently once the endpoint has answered.
// Entry i is nil when texts[i] could not be embedded.
func (a *Adapter) EmbedBatch(ctx context.Context, texts []string) [][]float32 {
	if len(texts) == 0 {
		return nil
	}
	results := make([][]float32, len(texts))
	if !a.Usable() {
		return results
	}

	// Texts up to and including the first cache miss are embedded in order,
	// so a broken endpoint costs a single request.
	next := 0
	for next < len(texts) {
		_, cached := a.cache.get(a.endpoint, texts[next])
		results[next] = a.Embed(ctx, texts[next])
		next++
		if !cached {
			break
		}
	}
	if next == len(texts) || a.cache.hasFailed(a.endpoint) {
		return results
	}

	var g errgroup.Group
	g.SetLimit(4)
	for i := next; i < len(texts); i++ {
		g.Go(func() error {
			results[i] = a.Embed(ctx, texts[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// SemanticSimilarity compares two texts by model embedding when both can be
// embedded, and by lexical cosine otherwise. It always yields a finite score.
func (a *Adapter) SemanticSimilarity(ctx context.Context, textA, textB string) float64 {
	if a.Usable() {
		va := a.Embed(ctx, textA)
		vb := a.Embed(ctx, textB)
		if len(va) > 0 && len(vb) > 0 {
			return similarity.CosineOverVectors(va, vb)
		}
	}
	return similarity.LexicalSimilarity(textA, textB)
}
