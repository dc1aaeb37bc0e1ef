package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets struct {
	values map[string]string
}

func (m *mockSecrets) Get(key string) (string, error) {
	v, ok := m.values[key]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockSecrets) Set(key, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[key] = value
	return nil
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")

	cfg, err := loadWith(newFileBackend(path), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Routing.Threshold != 0.55 {
		t.Errorf("Routing.Threshold = %v, want 0.55", cfg.Routing.Threshold)
	}
	if cfg.Routing.EmbeddingWeight != 0.40 || cfg.Routing.KeywordWeight != 0.35 || cfg.Routing.EntityWeight != 0.25 {
		t.Errorf("Routing weights = %+v", cfg.Routing)
	}
	if cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM.Model = %q, want gpt-4o-mini", cfg.LLM.Model)
	}
	if cfg.Embedding.Provider != "auto" {
		t.Errorf("Embedding.Provider = %q, want auto", cfg.Embedding.Provider)
	}
	if cfg.Timezone != "UTC" {
		t.Errorf("Timezone = %q, want UTC", cfg.Timezone)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("LLM.APIKey = %q, want empty", cfg.LLM.APIKey)
	}
}

func TestFileValues(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, `
routing.threshold: 0.7
server.port: 5000
log.debug: true
llm.model: local-model
llm.api_key: ignored-in-file
`)

	cfg, err := loadWith(newFileBackend(path), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Routing.Threshold != 0.7 {
		t.Errorf("Routing.Threshold = %v, want 0.7", cfg.Routing.Threshold)
	}
	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000", cfg.Server.Port)
	}
	if !cfg.Log.Debug {
		t.Error("Log.Debug = false, want true")
	}
	if cfg.LLM.Model != "local-model" {
		t.Errorf("LLM.Model = %q, want local-model", cfg.LLM.Model)
	}
	if cfg.LLM.APIKey != "" {
		t.Errorf("secret read from config file: %q", cfg.LLM.APIKey)
	}
}

func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "server.port: 5000\nrouting.threshold: 0.7\n")

	t.Setenv("ASSISTANT_HTTP_PORT", "6000")
	t.Setenv("ENVELOPE_ASSIGN_THRESHOLD", "0.9")
	t.Setenv("LLM_API_KEY", "env-key")

	cfg, err := loadWith(newFileBackend(path), &mockSecrets{values: map[string]string{"llm.api_key": "file-key"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 6000 {
		t.Errorf("Server.Port = %d, want 6000", cfg.Server.Port)
	}
	if cfg.Routing.Threshold != 0.9 {
		t.Errorf("Routing.Threshold = %v, want 0.9", cfg.Routing.Threshold)
	}
	if cfg.LLM.APIKey != "env-key" {
		t.Errorf("LLM.APIKey = %q, want env-key", cfg.LLM.APIKey)
	}
}

func TestSecretsFallback(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "missing.yaml")
	secrets := &mockSecrets{values: map[string]string{
		"embedding.api_key": "emb-key",
		"server.api_token":  "tok",
	}}

	cfg, err := loadWith(newFileBackend(path), secrets)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Embedding.APIKey != "emb-key" {
		t.Errorf("Embedding.APIKey = %q, want emb-key", cfg.Embedding.APIKey)
	}
	if cfg.Server.APIToken != "tok" {
		t.Errorf("Server.APIToken = %q, want tok", cfg.Server.APIToken)
	}
}

func TestInvalidEnvIgnored(t *testing.T) {
	clearEnv(t)
	t.Setenv("ASSISTANT_HTTP_PORT", "not-a-number")
	t.Setenv("KEYWORD_WEIGHT", "abc")

	cfg, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "c.yaml")), &mockSecrets{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want default 4100", cfg.Server.Port)
	}
	if cfg.Routing.KeywordWeight != 0.35 {
		t.Errorf("Routing.KeywordWeight = %v, want default 0.35", cfg.Routing.KeywordWeight)
	}
}

func TestValidate(t *testing.T) {
	cfg := defaults()
	if err := Validate(cfg); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	cfg.Routing.KeywordWeight = -1
	cfg.Routing.Threshold = 4
	cfg.Server.Port = 0
	cfg.Timezone = "Nowhere/Special"
	cfg.Log.Level = "loud"
	cfg.Thinking.Interval = "soon"

	err := Validate(cfg)
	if err == nil {
		t.Fatal("expected validation error")
	}
	for _, want := range []string{"routing.keyword_weight", "routing.threshold", "server.port", "timezone", "log.level", "thinking.interval"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	clearEnv(t)
	t.Setenv("TIMEZONE", "Mars/Olympus")
	if _, err := loadWith(newFileBackend(filepath.Join(t.TempDir(), "c.yaml")), &mockSecrets{}); err == nil {
		t.Fatal("expected error for invalid timezone")
	}
}

func TestThinkingInterval(t *testing.T) {
	cfg := defaults()
	d, err := cfg.ThinkingInterval()
	if err != nil || d != 0 {
		t.Fatalf("default interval = %v, %v; want 0, nil", d, err)
	}
	cfg.Thinking.Interval = "15m"
	d, err = cfg.ThinkingInterval()
	if err != nil {
		t.Fatal(err)
	}
	if d.Minutes() != 15 {
		t.Errorf("interval = %v, want 15m", d)
	}
}

func TestSetKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "config.yaml")
	b := newFileBackend(path)
	secrets := &mockSecrets{}

	if err := setKey(b, secrets, "routing.threshold", "0.8"); err != nil {
		t.Fatalf("set float: %v", err)
	}
	if err := setKey(b, secrets, "server.port", "4200"); err != nil {
		t.Fatalf("set int: %v", err)
	}
	if err := setKey(b, secrets, "log.debug", "true"); err != nil {
		t.Fatalf("set bool: %v", err)
	}
	if err := setKey(b, secrets, "llm.api_key", "sk-123"); err != nil {
		t.Fatalf("set secret: %v", err)
	}
	if secrets.values["llm.api_key"] != "sk-123" {
		t.Errorf("secret not stored in secrets file")
	}

	clearEnv(t)
	cfg, err := loadWith(newFileBackend(path), secrets)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if cfg.Routing.Threshold != 0.8 || cfg.Server.Port != 4200 || !cfg.Log.Debug {
		t.Errorf("reloaded config = %+v", cfg)
	}
	if cfg.LLM.APIKey != "sk-123" {
		t.Errorf("LLM.APIKey = %q, want sk-123", cfg.LLM.APIKey)
	}
}

func TestSetKeyErrors(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "config.yaml"))
	secrets := &mockSecrets{}

	if err := setKey(b, secrets, "no.such.key", "x"); err == nil {
		t.Error("expected error for unknown key")
	}
	if err := setKey(b, secrets, "server.port", "abc"); err == nil {
		t.Error("expected error for invalid int")
	}
	if err := setKey(b, secrets, "routing.threshold", "high"); err == nil {
		t.Error("expected error for invalid float")
	}
	if err := setKey(b, secrets, "log.debug", "maybe"); err == nil {
		t.Error("expected error for invalid bool")
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.LLM.APIKey = "sk-abcdef1234"

	var found bool
	for _, info := range ShowAll(cfg) {
		if info.Key == "llm.api_key" {
			found = true
			if info.Value != "****1234" {
				t.Errorf("masked value = %q, want ****1234", info.Value)
			}
		}
	}
	if !found {
		t.Error("llm.api_key missing from ShowAll")
	}
	if len(ValidKeys()) != len(specs) {
		t.Errorf("ValidKeys() = %d keys, want %d", len(ValidKeys()), len(specs))
	}
}

func TestFileSecrets(t *testing.T) {
	f := fileSecrets{path: filepath.Join(t.TempDir(), "data", "secrets.yaml")}
	if _, err := f.Get("llm.api_key"); err == nil {
		t.Fatal("expected error when secrets file is missing")
	}
	if err := f.Set("llm.api_key", "k1"); err != nil {
		t.Fatal(err)
	}
	if err := f.Set("server.api_token", "t1"); err != nil {
		t.Fatal(err)
	}
	v, err := f.Get("llm.api_key")
	if err != nil || v != "k1" {
		t.Fatalf("Get = %q, %v; want k1", v, err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets mode = %v, want 0600", info.Mode().Perm())
	}
}
