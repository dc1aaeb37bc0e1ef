// Package config resolves assistant settings from defaults, a YAML config
// file, a local secrets file and environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const appName = "contextual-assistant"

type Config struct {
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Routing   RoutingConfig
	Storage   StorageConfig
	Server    ServerConfig
	Thinking  ThinkingConfig
	Log       LogConfig
	Timezone  string
}

type LLMConfig struct {
	Provider string
	APIKey   string
	Model    string
	BaseURL  string
}

type EmbeddingConfig struct {
	Provider string
	Model    string
	APIKey   string
	BaseURL  string
}

// RoutingConfig holds the envelope scoring weights and assign threshold.
type RoutingConfig struct {
	Threshold       float64
	EmbeddingWeight float64
	KeywordWeight   float64
	EntityWeight    float64
}

type StorageConfig struct {
	DataDir string
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type ThinkingConfig struct {
	OutputDir string
	// Interval between scheduled thinking runs while serving; "0" disables.
	Interval string
}

type LogConfig struct {
	Level string
	Debug bool
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		LLM: LLMConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
		},
		Embedding: EmbeddingConfig{
			Provider: "auto",
			Model:    "text-embedding-3-small",
		},
		Routing: RoutingConfig{
			Threshold:       0.55,
			EmbeddingWeight: 0.40,
			KeywordWeight:   0.35,
			EntityWeight:    0.25,
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Server: ServerConfig{
			Port: 4100,
		},
		Thinking: ThinkingConfig{
			OutputDir: filepath.Join(dataDir, "thinking"),
			Interval:  "0",
		},
		Log: LogConfig{
			Level: "info",
		},
		Timezone: "UTC",
	}
}

// Load reads configuration from the YAML config file, the secrets file and
// environment variables.
//
// The config file lives at $ASSISTANT_CONFIG, or
// $XDG_CONFIG_HOME/contextual-assistant/config.yaml. Secrets (API keys and
// the API token) are never read from it; they come from the environment or
// from secrets.yaml in the data directory.
//
// Environment variables override file values.
func Load() (Config, error) {
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretReader abstracts the secrets file for testing.
type secretReader interface {
	Get(key string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretReader) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Secrets not provided via environment fall back to the secrets file.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if err := Validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate reports every out-of-range setting.
func Validate(cfg Config) error {
	var errs []error
	r := cfg.Routing
	for name, w := range map[string]float64{
		"routing.embedding_weight": r.EmbeddingWeight,
		"routing.keyword_weight":   r.KeywordWeight,
		"routing.entity_weight":    r.EntityWeight,
	} {
		if w < 0 {
			errs = append(errs, fmt.Errorf("%s must not be negative (got %v)", name, w))
		}
	}
	if r.Threshold < 0 || r.Threshold > 3 {
		errs = append(errs, fmt.Errorf("routing.threshold must be within [0, 3] (got %v)", r.Threshold))
	}
	if cfg.Server.Port <= 0 || cfg.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port out of range: %d", cfg.Server.Port))
	}
	if _, err := time.LoadLocation(cfg.Timezone); err != nil {
		errs = append(errs, fmt.Errorf("timezone %q: %w", cfg.Timezone, err))
	}
	if _, err := cfg.ThinkingInterval(); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(cfg.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be debug, info, warn or error (got %q)", cfg.Log.Level))
	}
	return errors.Join(errs...)
}

// ThinkingInterval parses Thinking.Interval; zero disables scheduling.
func (cfg Config) ThinkingInterval() (time.Duration, error) {
	if cfg.Thinking.Interval == "" || cfg.Thinking.Interval == "0" {
		return 0, nil
	}
	d, err := time.ParseDuration(cfg.Thinking.Interval)
	if err != nil {
		return 0, fmt.Errorf("thinking.interval: %w", err)
	}
	return d, nil
}

// Location returns the configured timezone, or UTC if it cannot be loaded.
func (cfg Config) Location() *time.Location {
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return appName + "-data"
		}
	}
	return filepath.Join(dir, appName)
}

func configFilePath() string {
	if p := os.Getenv("ASSISTANT_CONFIG"); p != "" {
		return p
	}
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".config")
		} else {
			dir = "."
		}
	}
	return filepath.Join(dir, appName, "config.yaml")
}
