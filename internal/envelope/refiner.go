package envelope

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

const (
	refineTimeout     = 30 * time.Second
	maxNameLen        = 255
	maxSummaryLen     = 300
	refineCardLimit   = 12
	fallbackCardCount = 3
	defaultSummary    = "General context"
)

// RefinePromptVersion identifies the refine prompt below.
const RefinePromptVersion = "envelope_refine.v1"

const refineSystemPrompt = `You maintain short labels for groups of personal notes. Given an envelope's current name, summary, keywords and its most recent notes, return a better name and summary. Your output must be ONLY a single valid JSON object that conforms to the provided schema.

Rules:
- name: 2 to 5 words naming the shared topic, in Title Case. Keep the current name if it still fits.
- summary: one or two sentences describing what the notes in this envelope are about.`

// Chatter is the structured chat call. *llm.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

// Refinement is a display name and summary for an envelope.
type Refinement struct {
	Name    string `json:"name"`
	Summary string `json:"summary"`
}

// Refiner rewrites envelope names and summaries, with an LLM when one is
// available and deterministically otherwise.
type Refiner struct {
	client  Chatter
	metrics *metrics.Collector
}

// NewRefiner creates a Refiner. A nil client disables the LLM path.
func NewRefiner(client Chatter, m *metrics.Collector) *Refiner {
	return &Refiner{client: client, metrics: m}
}

// Refine returns a name and summary for env given its member cards (most
// recent first). It never fails: any LLM problem yields the fallback.
func (r *Refiner) Refine(ctx context.Context, env storage.Envelope, cards []storage.Card) Refinement {
	if len(cards) == 0 || r.client == nil {
		return Fallback(env, cards)
	}

	out, err := r.refineLLM(ctx, env, cards)
	if err != nil {
		slog.Warn("envelope refine failed; using fallback", "envelope", env.Name, "error", err)
		r.metrics.RecordFallback("refiner")
		return Fallback(env, cards)
	}
	return out
}

func (r *Refiner) refineLLM(ctx context.Context, env storage.Envelope, cards []storage.Card) (Refinement, error) {
	ctx, cancel := context.WithTimeout(ctx, refineTimeout)
	defer cancel()

	raw, err := r.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: refineSystemPrompt},
		{Role: "user", Content: refinePayload(env, cards)},
	}, refineSchema())
	if err != nil {
		return Refinement{}, err
	}

	var out Refinement
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Refinement{}, fmt.Errorf("decoding refinement: %w", err)
	}
	out.Name = strings.TrimSpace(out.Name)
	out.Summary = strings.TrimSpace(out.Summary)
	if out.Name == "" || out.Summary == "" {
		return Refinement{}, fmt.Errorf("refinement has empty name or summary")
	}
	out.Name = truncate(out.Name, maxNameLen)
	out.Summary = truncate(out.Summary, maxSummaryLen)
	return out, nil
}

func refinePayload(env storage.Envelope, cards []storage.Card) string {
	var lines []string
	for i, c := range cards {
		if i == refineCardLimit {
			break
		}
		if c.Description != "" {
			lines = append(lines, "- "+c.Description)
		}
	}
	cardLines := strings.Join(lines, "\n")
	if cardLines == "" {
		cardLines = "- (none)"
	}
	return fmt.Sprintf("Current envelope name: %s\n\nCurrent envelope summary: %s\n\nCurrent envelope keywords: %s\n\nRecent card descriptions:\n%s",
		env.Name, env.Summary, strings.Join(env.Keywords, ", "), cardLines)
}

func refineSchema() *llm.Schema {
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"name":    {Type: "string", MinLength: llm.Int(1), MaxLength: llm.Int(maxNameLen)},
			"summary": {Type: "string", MinLength: llm.Int(1), MaxLength: llm.Int(maxSummaryLen)},
		},
		Required: []string{"name", "summary"},
	}
}

// Fallback derives a name from the first profile keyword and a summary from
// the most recent card descriptions.
func Fallback(env storage.Envelope, cards []storage.Card) Refinement {
	var name string
	if len(env.Keywords) > 0 {
		name = truncate(keywordName(env.Keywords[0]), maxNameLen)
	} else {
		name = strings.TrimSpace(env.Name)
		if name == "" {
			name = "General"
		}
		name = truncate(name, maxNameLen)
	}

	var recent []string
	for i, c := range cards {
		if i == fallbackCardCount {
			break
		}
		if d := strings.TrimSpace(c.Description); d != "" {
			recent = append(recent, d)
		}
	}
	var summary string
	if len(recent) > 0 {
		summary = truncate(strings.Join(recent, "; "), maxSummaryLen)
	} else {
		summary = env.Summary
		if summary == "" {
			summary = defaultSummary
		}
		summary = truncate(summary, maxSummaryLen)
	}
	if summary == "" {
		summary = defaultSummary
	}
	return Refinement{Name: name, Summary: summary}
}
