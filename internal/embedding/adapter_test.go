package embedding

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/similarity"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	err   error
	vecs  map[string][]float32
	delay time.Duration
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if v, ok := f.vecs[text]; ok {
		return v, nil
	}
	return []float32{float32(len(text)), 1}, nil
}

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

var ollamaEndpoint = llm.Endpoint{Provider: llm.ProviderOllama, Model: "nomic-embed-text"}

func TestResolveProvider(t *testing.T) {
	assert.Equal(t, "openai", ResolveProvider(Config{Provider: "auto", LLMProvider: "OpenAI"}))
	assert.Equal(t, "ollama", ResolveProvider(Config{LLMProvider: "ollama"}))
	assert.Equal(t, "lexical", ResolveProvider(Config{Provider: "auto", LLMProvider: "anthropic"}))
	assert.Equal(t, "deepseek", ResolveProvider(Config{Provider: " DeepSeek ", LLMProvider: "openai"}))
}

func TestIsModelUsable(t *testing.T) {
	assert.True(t, IsModelUsable(Config{Provider: "openai", Model: "text-embedding-3-small", APIKey: "sk"}))
	assert.False(t, IsModelUsable(Config{Provider: "openai", Model: "text-embedding-3-small"}))
	assert.False(t, IsModelUsable(Config{Provider: "auto", LLMProvider: "openai", Model: "m"}))
	assert.True(t, IsModelUsable(Config{Provider: "auto", LLMProvider: "ollama", Model: "m"}))
	assert.False(t, IsModelUsable(Config{Provider: "lexical", Model: "m"}))
}

func TestEmbed_CachesSuccessfulVectors(t *testing.T) {
	fake := &fakeEmbedder{}
	a := NewAdapterWithClient(ollamaEndpoint, fake, NewCache(), nil)

	v1 := a.Embed(context.Background(), "budget")
	v2 := a.Embed(context.Background(), "budget")
	require.NotEmpty(t, v1)
	assert.Equal(t, v1, v2)
	assert.Equal(t, 1, fake.callCount())
}

func TestEmbed_FailureShortCircuitsLaterCalls(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("connection refused")}
	cache := NewCache()
	a := NewAdapterWithClient(ollamaEndpoint, fake, cache, nil)

	assert.Nil(t, a.Embed(context.Background(), "first"))
	assert.Nil(t, a.Embed(context.Background(), "second"))
	assert.Equal(t, 1, fake.callCount())

	// A differently configured adapter sharing the cache is not affected.
	other := llm.Endpoint{Provider: llm.ProviderOllama, Model: "other-model"}
	fake.err = nil
	b := NewAdapterWithClient(other, fake, cache, nil)
	assert.NotNil(t, b.Embed(context.Background(), "first"))
}

func TestEmbed_NotUsableMakesNoCalls(t *testing.T) {
	fake := &fakeEmbedder{}
	ep := llm.Endpoint{Provider: llm.ProviderOpenAI, Model: "text-embedding-3-small"}
	a := NewAdapterWithClient(ep, fake, nil, nil)

	assert.False(t, a.Usable())
	assert.Nil(t, a.Embed(context.Background(), "budget"))
	assert.Equal(t, 0, fake.callCount())
}

func TestSemanticSimilarity_UsesModelVectors(t *testing.T) {
	fake := &fakeEmbedder{vecs: map[string][]float32{
		"a": {1, 0},
		"b": {1, 0},
	}}
	a := NewAdapterWithClient(ollamaEndpoint, fake, nil, nil)
	assert.InDelta(t, 1.0, a.SemanticSimilarity(context.Background(), "a", "b"), 1e-9)
}

func TestSemanticSimilarity_FallsBackToLexical(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("boom")}
	a := NewAdapterWithClient(ollamaEndpoint, fake, nil, nil)

	got := a.SemanticSimilarity(context.Background(), "quarterly budget", "budget review")
	assert.InDelta(t, similarity.LexicalSimilarity("quarterly budget", "budget review"), got, 1e-12)
}

func TestSemanticSimilarity_MissingKeyStaysFiniteAndBounded(t *testing.T) {
	a := NewAdapter(Config{Provider: "openai", Model: "text-embedding-3-small"}, NewCache(), nil)
	require.False(t, a.Usable())

	rng := rand.New(rand.NewSource(42))
	words := []string{"budget", "Sarah", "q3", "", "!!", "call", "groceries", "Budget"}
	randomText := func() string {
		n := rng.Intn(5)
		parts := make([]string, n)
		for i := range parts {
			parts[i] = words[rng.Intn(len(words))]
		}
		return strings.Join(parts, " ")
	}
	for i := 0; i < 300; i++ {
		s := a.SemanticSimilarity(context.Background(), randomText(), randomText())
		require.False(t, math.IsNaN(s))
		require.False(t, math.IsInf(s, 0))
		require.GreaterOrEqual(t, s, 0.0)
		require.LessOrEqual(t, s, 1.0+1e-9)
	}
}

func TestEmbedBatch(t *testing.T) {
	fake := &fakeEmbedder{vecs: map[string][]float32{"x": {1, 2}, "y": {3, 4}}}
	a := NewAdapterWithClient(ollamaEndpoint, fake, nil, nil)

	got := a.EmbedBatch(context.Background(), []string{"x", "y", "x"})
	require.Len(t, got, 3)
	assert.Equal(t, []float32{1, 2}, got[0])
	assert.Equal(t, []float32{3, 4}, got[1])
	assert.Equal(t, []float32{1, 2}, got[2])

	assert.Nil(t, a.EmbedBatch(context.Background(), nil))
}

func TestEmbedBatch_BrokenEndpointCostsOneCall(t *testing.T) {
	fake := &fakeEmbedder{err: errors.New("connection refused"), delay: 20 * time.Millisecond}
	a := NewAdapterWithClient(ollamaEndpoint, fake, NewCache(), nil)

	texts := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	got := a.EmbedBatch(context.Background(), texts)
	require.Len(t, got, len(texts))
	for _, v := range got {
		assert.Nil(t, v)
	}
	assert.Equal(t, 1, fake.callCount())
}

func TestEmbedBatch_CachedPrefixThenFanOut(t *testing.T) {
	fake := &fakeEmbedder{delay: 5 * time.Millisecond}
	cache := NewCache()
	a := NewAdapterWithClient(ollamaEndpoint, fake, cache, nil)
	require.NotNil(t, a.Embed(context.Background(), "seen"))

	got := a.EmbedBatch(context.Background(), []string{"seen", "one", "two", "three"})
	require.Len(t, got, 4)
	for _, v := range got {
		assert.NotNil(t, v)
	}
	// "seen" came from the cache.
	assert.Equal(t, 4, fake.callCount())
}
