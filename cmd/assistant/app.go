package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/config"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/dates"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/embedding"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/envelope"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/extract"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

// app bundles the wired components shared by the CLI commands and the server.
type app struct {
	cfg          config.Config
	store        *storage.Store
	metrics      *metrics.Collector
	orchestrator *pipeline.Orchestrator
	context      *usercontext.Manager
	thinker      *thinking.Thinker
}

func setupLogging(cfg config.Config) {
	level := slog.LevelInfo
	switch {
	case cfg.Log.Debug, strings.EqualFold(cfg.Log.Level, "debug"):
		level = slog.LevelDebug
	case strings.EqualFold(cfg.Log.Level, "warn"):
		level = slog.LevelWarn
	case strings.EqualFold(cfg.Log.Level, "error"):
		level = slog.LevelError
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// openApp loads config, opens the store and wires the ingestion stack.
func openApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	setupLogging(cfg)

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a, err := wire(cfg, store)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(cfg config.Config, store *storage.Store) (*app, error) {
	m := metrics.New()

	chatEP := llm.Endpoint{
		Provider: llm.NormalizeProvider(cfg.LLM.Provider),
		Model:    cfg.LLM.Model,
		APIKey:   cfg.LLM.APIKey,
		BaseURL:  cfg.LLM.BaseURL,
	}
	// A nil client selects the rule-based and template fallbacks everywhere.
	var (
		extractChat extract.Chatter
		refineChat  envelope.Chatter
		contextChat usercontext.Chatter
	)
	if chatEP.Usable() {
		client := llm.NewClient(chatEP)
		extractChat, refineChat, contextChat = client, client, client
	} else {
		slog.Warn("llm not configured; using rule-based extraction", "provider", chatEP.Provider)
	}

	sim := embedding.NewAdapter(embedding.Config{
		Provider:    cfg.Embedding.Provider,
		Model:       cfg.Embedding.Model,
		APIKey:      cfg.Embedding.APIKey,
		BaseURL:     cfg.Embedding.BaseURL,
		LLMProvider: chatEP.Provider,
	}, nil, m)
	slog.Debug("embedding endpoint resolved", "provider", sim.Endpoint().Provider, "usable", sim.Usable())

	parser, err := dates.NewParser(cfg.Timezone)
	if err != nil {
		return nil, err
	}

	weights := envelope.Weights{
		Embedding: cfg.Routing.EmbeddingWeight,
		Keyword:   cfg.Routing.KeywordWeight,
		Entity:    cfg.Routing.EntityWeight,
	}
	ctxMgr := usercontext.NewManager(usercontext.NewUpdater(contextChat), m)

	orch := pipeline.NewOrchestrator(
		store,
		extract.NewExtractor(extractChat, chatEP.Label(), cfg.Timezone, m),
		parser,
		envelope.NewRouter(envelope.NewScorer(sim, weights), sim, cfg.Routing.Threshold, m),
		envelope.NewMaintainer(envelope.NewProfileBuilder(sim), envelope.NewRefiner(refineChat, m)),
		ctxMgr,
		m,
	)

	return &app{
		cfg:          cfg,
		store:        store,
		metrics:      m,
		orchestrator: orch,
		context:      ctxMgr,
		thinker:      thinking.New(store, cfg.Thinking.OutputDir, cfg.Location(), m),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
	}
}
