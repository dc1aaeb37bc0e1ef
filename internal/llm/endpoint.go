package llm

import "strings"

// Provider names accepted in configuration.
const (
	ProviderOpenAI           = "openai"
	ProviderOpenAICompatible = "openai_compatible"
	ProviderDeepSeek         = "deepseek"
	ProviderOllama           = "ollama"
	ProviderAuto             = "auto"
	ProviderLexical          = "lexical"
)

var defaultBaseURLs = map[string]string{
	ProviderOpenAI:           "https://api.openai.com/v1",
	ProviderDeepSeek:         "https://api.deepseek.com/v1",
	ProviderOllama:           "http://localhost:11434/v1",
	ProviderOpenAICompatible: "",
}

// IsModelProvider reports whether p names a provider backed by a remote model.
func IsModelProvider(p string) bool {
	_, ok := defaultBaseURLs[p]
	return ok
}

// RequiresKey reports whether the provider refuses unauthenticated calls.
func RequiresKey(p string) bool {
	return p == ProviderOpenAI || p == ProviderDeepSeek || p == ProviderOpenAICompatible
}

// NormalizeProvider trims and lowercases a provider name.
func NormalizeProvider(p string) string {
	return strings.ToLower(strings.TrimSpace(p))
}

// Endpoint identifies one remote model: who serves it, which model, and how
// to reach it.
type Endpoint struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// URL returns the explicit base URL, or the provider default.
func (e Endpoint) URL() string {
	if e.BaseURL != "" {
		return strings.TrimRight(e.BaseURL, "/")
	}
	return defaultBaseURLs[e.Provider]
}

// Key returns the API key sent on the wire. Providers that do not check
// keys still need a non-empty bearer value.
func (e Endpoint) Key() string {
	if e.APIKey != "" {
		return e.APIKey
	}
	if e.Provider == ProviderOllama {
		return "ollama"
	}
	return "unused"
}

// Usable reports whether calls to the endpoint can be attempted at all:
// a known model provider, a model name, a key where one is required, and a
// base URL for fully custom endpoints.
func (e Endpoint) Usable() bool {
	if !IsModelProvider(e.Provider) {
		return false
	}
	if strings.TrimSpace(e.Model) == "" {
		return false
	}
	if RequiresKey(e.Provider) && e.APIKey == "" {
		return false
	}
	if e.Provider == ProviderOpenAICompatible && e.URL() == "" {
		return false
	}
	return true
}

// Label is the "provider:model" string recorded with events and runs.
func (e Endpoint) Label() string {
	return e.Provider + ":" + e.Model
}
