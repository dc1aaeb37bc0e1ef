// Package pipeline runs a raw note through extraction, routing, storage and
// context maintenance as one unit of work.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/dates"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/envelope"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/extract"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

// IngestResult is what one ingested note turned into.
type IngestResult struct {
	Card           storage.Card    `json:"card"`
	EnvelopeID     string          `json:"envelope_id"`
	EnvelopeName   string          `json:"envelope_name"`
	Action         envelope.Action `json:"action"`
	Score          float64         `json:"match_score"`
	Reason         string          `json:"reason"`
	MatchReason    string          `json:"match_reason"`
	ModelName      string          `json:"model_name"`
	LLMSuccess     bool            `json:"llm_success"`
	ContextUpdated bool            `json:"context_updated"`
	ContextMessage string          `json:"context_message"`
}

// Orchestrator ingests notes.
type Orchestrator struct {
	store      *storage.Store
	extractor  *extract.Extractor
	dates      *dates.Parser
	router     *envelope.Router
	maintainer *envelope.Maintainer
	context    *usercontext.Manager
	metrics    *metrics.Collector
}

// NewOrchestrator creates an Orchestrator wired to its collaborators.
func NewOrchestrator(
	store *storage.Store,
	extractor *extract.Extractor,
	dateParser *dates.Parser,
	router *envelope.Router,
	maintainer *envelope.Maintainer,
	contextMgr *usercontext.Manager,
	m *metrics.Collector,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		extractor:  extractor,
		dates:      dateParser,
		router:     router,
		maintainer: maintainer,
		context:    contextMgr,
		metrics:    m,
	}
}

// IngestNote turns raw into a card in the right envelope. Everything it
// writes (envelope, card, entities, profile, context, event) commits
// together or not at all.
func (o *Orchestrator) IngestNote(ctx context.Context, raw string) (res IngestResult, err error) {
	if err := extract.CheckNote(raw); err != nil {
		return IngestResult{}, err
	}
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
		}
		o.metrics.RecordIngestion(status, time.Since(start))
	}()

	// Model calls happen before the transaction so the write lock is held
	// only for local work. The note vector also warms the cache for the
	// envelope profile refresh.
	ext := o.extractor.Extract(ctx, raw)
	f := ext.Fields
	noteVec := o.router.Embed(ctx, raw)

	dueAt, derr := o.dates.Parse(f.DateText)
	if derr != nil {
		slog.Warn("could not resolve date phrase", "phrase", f.DateText, "error", derr)
	}

	err = o.store.InTx(ctx, func(q *storage.Queries) error {
		d, err := o.router.Route(ctx, q, envelope.Input{
			RawText:     raw,
			Description: f.Description,
			CardType:    f.CardType,
			Keywords:    f.Keywords,
			Assignee:    f.Assignee,
			Embedding:   noteVec,
		})
		if err != nil {
			return fmt.Errorf("routing note: %w", err)
		}

		card, err := q.CreateCard(ctx, storage.Card{
			RawText:     raw,
			CardType:    f.CardType,
			Description: f.Description,
			DueAt:       dueAt,
			Assignee:    f.Assignee,
			Keywords:    f.Keywords,
			EnvelopeID:  d.Envelope.ID,
		})
		if err != nil {
			return fmt.Errorf("creating card: %w", err)
		}
		if err := q.AddEntities(ctx, card.ID, f.StorageEntities()); err != nil {
			return fmt.Errorf("storing entities: %w", err)
		}

		env, err := o.maintainer.Refresh(ctx, q, d.Envelope.ID)
		if err != nil {
			return fmt.Errorf("refreshing envelope: %w", err)
		}

		cres, err := o.context.Update(ctx, q)
		if err != nil {
			return fmt.Errorf("updating user context: %w", err)
		}

		if _, err := q.LogIngestion(ctx, storage.IngestionEvent{
			CardID:        card.ID,
			ModelName:     ext.ModelName,
			PromptVersion: ext.PromptVersion,
			SchemaVersion: extract.SchemaVersion,
			Success:       ext.Success,
			LatencyMS:     ext.Latency.Milliseconds(),
			ErrorText:     ext.ErrorText,
		}); err != nil {
			return fmt.Errorf("logging ingestion: %w", err)
		}

		res = IngestResult{
			Card:           card,
			EnvelopeID:     env.ID,
			EnvelopeName:   env.Name,
			Action:         d.Action,
			Score:          d.Score,
			Reason:         d.Reason,
			MatchReason:    d.MatchReason,
			ModelName:      ext.ModelName,
			LLMSuccess:     ext.Success,
			ContextUpdated: cres.Updated,
			ContextMessage: cres.Message,
		}
		return nil
	})
	// Readers may have cached the pre-commit snapshot while the transaction
	// was open, and a rolled-back write may have reset it.
	o.context.Invalidate()
	if err != nil {
		slog.Error("note ingestion failed", "error", err)
		return IngestResult{}, err
	}

	slog.Info("note ingested",
		"card", res.Card.ID,
		"envelope", res.EnvelopeName,
		"action", res.Action,
		"score", res.Score,
		"model", res.ModelName,
	)
	return res, nil
}
