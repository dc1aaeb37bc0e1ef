package usercontext

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
)

// PromptVersion identifies the context update prompt.
const PromptVersion = "context_update.v1"

const updateTimeout = 45 * time.Second

// ErrUnavailable is returned when no model is configured for context updates.
var ErrUnavailable = errors.New("llm unavailable for context update")

// ErrNoEvidence is returned when there are no cards to learn from.
var ErrNoEvidence = errors.New("no evidence cards available for context update")

const systemPrompt = `You maintain a structured memory of a single user built from their notes.
You receive the previous context as JSON and a list of recent evidence cards. Return the updated context.

Rules:
- Keep entries from the previous context unless the evidence contradicts them.
- Merge duplicates; names are case-insensitive.
- strength is between 0 and 1 and grows with repeated evidence.
- evidence_card_ids reference card_id values from the evidence.
- important_upcoming lists cards with due dates or clear urgency, most urgent first.
- focus_summary is one sentence about what the user is focused on right now.
Your output must be ONLY a single valid JSON object that conforms to the provided schema.`

// Chatter is the structured chat call. *llm.Client satisfies it.
type Chatter interface {
	Chat(ctx context.Context, messages []llm.Message, schema *llm.Schema) (string, error)
}

// Updater asks the model for a new context from the previous one and the
// selected evidence.
type Updater struct {
	client Chatter
}

// NewUpdater creates an Updater. A nil client disables updates.
func NewUpdater(client Chatter) *Updater {
	return &Updater{client: client}
}

// Enabled reports whether a model is configured.
func (u *Updater) Enabled() bool { return u != nil && u.client != nil }

// Update returns the refreshed context.
func (u *Updater) Update(ctx context.Context, previousJSON string, evidence []Evidence) (Update, error) {
	if !u.Enabled() {
		return Update{}, ErrUnavailable
	}
	if len(evidence) == 0 {
		return Update{}, ErrNoEvidence
	}

	evidenceJSON, err := json.MarshalIndent(evidence, "", "  ")
	if err != nil {
		return Update{}, fmt.Errorf("encoding evidence: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, updateTimeout)
	defer cancel()

	raw, err := u.client.Chat(ctx, []llm.Message{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: fmt.Sprintf("Previous context:\n%s\n\nEvidence cards:\n%s", previousJSON, evidenceJSON)},
	}, updateSchema())
	if err != nil {
		return Update{}, err
	}

	var out Update
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return Update{}, fmt.Errorf("decoding context update: %w", err)
	}
	out.FocusSummary = strings.TrimSpace(out.FocusSummary)
	out.Context = out.Context.fill()
	return out, nil
}

func updateSchema() *llm.Schema {
	item := &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"name":              {Type: "string", MinLength: llm.Int(1)},
			"strength":          {Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)},
			"evidence_card_ids": {Type: "array", Items: &llm.Schema{Type: "string"}},
			"last_seen_at":      {Type: "string", Nullable: true},
		},
		Required: []string{"name", "strength"},
	}
	items := func() *llm.Schema { return &llm.Schema{Type: "array", Items: item} }
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"context": {
				Type: "object",
				Properties: map[string]*llm.Schema{
					"people":        items(),
					"organizations": items(),
					"projects":      items(),
					"themes":        items(),
					"important_upcoming": {
						Type: "array",
						Items: &llm.Schema{
							Type: "object",
							Properties: map[string]*llm.Schema{
								"card_id": {Type: "string"},
								"title":   {Type: "string"},
								"reason":  {Type: "string"},
							},
							Required: []string{"card_id", "title", "reason"},
						},
					},
					"miscellaneous": items(),
				},
			},
			"focus_summary": {Type: "string"},
		},
		Required: []string{"context", "focus_summary"},
	}
}
