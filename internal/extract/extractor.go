package extract

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
)

const extractionTimeout = 30 * time.Second

// fallbackModel labels events produced by the rule-based extractor.
const fallbackModel = "fallback:rules"

// Chatter is the structured chat call. *llm.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

// Result is the extraction outcome together with what is logged about it.
type Result struct {
	Fields        Fields
	ModelName     string
	PromptVersion string
	Success       bool
	Latency       time.Duration
	ErrorText     string
}

// Extractor asks an LLM for card fields and falls back to Fallback on any
// failure.
type Extractor struct {
	client   Chatter
	label    string
	fallback Fallback
	metrics  *metrics.Collector
	timezone string
	now      func() time.Time
}

// NewExtractor creates an Extractor. A nil client means every note goes
// through the rule-based path. label names the model in ingestion events.
func NewExtractor(client Chatter, label, timezone string, m *metrics.Collector) *Extractor {
	return &Extractor{client: client, label: label, metrics: m, timezone: timezone, now: time.Now}
}

// Extract reads fields from raw. It never returns an error: the LLM path's
// failures are reported through Result.Success and Result.ErrorText.
func (e *Extractor) Extract(ctx context.Context, raw string) Result {
	start := time.Now()
	if e.client == nil {
		return e.fallbackResult(raw, start, "llm unavailable")
	}

	fields, err := e.extractLLM(ctx, raw)
	if err != nil {
		slog.Warn("llm extraction failed; using rule-based fallback", "error", err)
		e.metrics.RecordFallback("extractor")
		return e.fallbackResult(raw, start, err.Error())
	}
	return Result{
		Fields:        fields,
		ModelName:     e.label,
		PromptVersion: PromptVersion,
		Success:       true,
		Latency:       time.Since(start),
	}
}

func (e *Extractor) extractLLM(ctx context.Context, raw string) (Fields, error) {
	ctx, cancel := context.WithTimeout(ctx, extractionTimeout)
	defer cancel()

	out, err := e.client.Chat(ctx, BuildPrompt(raw, e.now(), e.timezone), fieldsSchema())
	if err != nil {
		return Fields{}, err
	}

	var f Fields
	if err := json.Unmarshal([]byte(out), &f); err != nil {
		return Fields{}, fmt.Errorf("decoding extracted fields: %w", err)
	}
	f.CardType = storageCardType(string(f.CardType))
	f = f.normalize()
	if err := f.Validate(); err != nil {
		return Fields{}, err
	}
	return f, nil
}

func (e *Extractor) fallbackResult(raw string, start time.Time, reason string) Result {
	return Result{
		Fields:        e.fallback.Extract(raw).normalize(),
		ModelName:     fallbackModel,
		PromptVersion: PromptVersion,
		Success:       false,
		Latency:       time.Since(start),
		ErrorText:     reason,
	}
}

// ErrEmptyNote is returned for notes with no content.
var ErrEmptyNote = errors.New("note is empty")

// CheckNote rejects notes that are blank after trimming.
func CheckNote(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return ErrEmptyNote
	}
	return nil
}
