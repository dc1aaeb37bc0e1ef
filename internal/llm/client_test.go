package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func refineSchema() *Schema {
	return &Schema{
		Type: "object",
		Properties: map[string]*Schema{
			"name":    {Type: "string", MinLength: Int(1), MaxLength: Int(10)},
			"summary": {Type: "string", Nullable: true},
		},
		Required: []string{"name"},
	}
}

func chatReply(content string) map[string]any {
	return map[string]any{
		"choices": []map[string]any{{"message": map[string]string{"role": "assistant", "content": content}}},
	}
}

func TestChat_SendsSchemaAndValidatesReply(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(chatReply("```json\n{\"name\":\"Budget\",\"summary\":null}\n```"))
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Provider: ProviderOpenAI, Model: "gpt-test", APIKey: "sk-test", BaseURL: srv.URL})
	out, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, refineSchema())
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"Budget","summary":null}`, out)

	assert.Equal(t, "gpt-test", got["model"])
	assert.Equal(t, 0.0, got["temperature"])
	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_schema", format["type"])
}

func TestChat_RejectsReplyOutsideSchema(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(chatReply(`{"name":"a name that is far too long"}`))
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Provider: ProviderOllama, Model: "m", BaseURL: srv.URL})
	_, err := c.Chat(context.Background(), nil, refineSchema())
	assert.Error(t, err)
}

func TestPost_RetriesOnceOnServerError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			http.Error(w, "boom", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"embedding": []float32{0.1, 0.2}}}})
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Provider: ProviderOllama, Model: "nomic", BaseURL: srv.URL})
	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, vec)
	assert.Equal(t, int32(2), calls.Load())
}

func TestPost_GivesUpAfterSecondFailure(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "busy", http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Provider: ProviderOllama, Model: "nomic", BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello")
	assert.Error(t, err)
	assert.Equal(t, int32(maxAttempts), calls.Load())
}

func TestPost_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad key", http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewClient(Endpoint{Provider: ProviderOpenAI, Model: "m", APIKey: "k", BaseURL: srv.URL})
	_, err := c.Embed(context.Background(), "hello")
	assert.ErrorContains(t, err, "401")
	assert.Equal(t, int32(1), calls.Load())
}

func TestEndpointUsable(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want bool
	}{
		{"openai with key", Endpoint{Provider: ProviderOpenAI, Model: "m", APIKey: "k"}, true},
		{"openai without key", Endpoint{Provider: ProviderOpenAI, Model: "m"}, false},
		{"deepseek without key", Endpoint{Provider: ProviderDeepSeek, Model: "m"}, false},
		{"ollama without key", Endpoint{Provider: ProviderOllama, Model: "m"}, true},
		{"no model", Endpoint{Provider: ProviderOllama}, false},
		{"compatible without url", Endpoint{Provider: ProviderOpenAICompatible, Model: "m", APIKey: "k"}, false},
		{"compatible with url", Endpoint{Provider: ProviderOpenAICompatible, Model: "m", APIKey: "k", BaseURL: "http://x"}, true},
		{"lexical", Endpoint{Provider: ProviderLexical, Model: "m"}, false},
		{"unknown", Endpoint{Provider: "anthropic", Model: "m", APIKey: "k"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ep.Usable())
		})
	}
}

func TestEndpointDefaults(t *testing.T) {
	assert.Equal(t, "https://api.deepseek.com/v1", Endpoint{Provider: ProviderDeepSeek}.URL())
	assert.Equal(t, "http://localhost:11434/v1", Endpoint{Provider: ProviderOllama}.URL())
	assert.Equal(t, "http://gw", Endpoint{Provider: ProviderOllama, BaseURL: "http://gw/"}.URL())
	assert.Equal(t, "unused", Endpoint{Provider: ProviderOpenAI}.Key())
	assert.Equal(t, "ollama", Endpoint{Provider: ProviderOllama}.Key())
}

func TestSchemaNullableMarshal(t *testing.T) {
	b, err := json.Marshal(&Schema{Type: "string", Nullable: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":["string","null"]}`, string(b))
}
