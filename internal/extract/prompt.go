package extract

import (
	"fmt"
	"strings"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

const systemPrompt = `You turn a short personal note into a structured card. Your output must be ONLY a single valid JSON object that conforms to the provided schema. Do not include any other text, prose, or markdown.

Card types:
- "task": something the user has to do, usually starting with an action verb
- "reminder": something to remember at a point in time
- "idea_note": a thought, idea or observation with no action attached

Rules:
- description: a short, clean restatement of the note.
- date_text: the date or time phrase exactly as written ("tomorrow", "next monday"), or null.
- assignee: the person the task involves, or null.
- context_keywords: 2 to 6 lowercase topic keywords, most important first; join multi-word keywords with "_".
- entities: people, companies, projects and themes mentioned in the note.
- confidence: how sure you are of the card type, from 0 to 1.`

// BuildPrompt constructs the chat messages for extracting fields from a note.
func BuildPrompt(note string, now time.Time, timezone string) []llm.Message {
	var sb strings.Builder
	sb.WriteString(systemPrompt)
	if timezone != "" {
		if loc, err := time.LoadLocation(timezone); err == nil {
			now = now.In(loc)
		}
	}
	fmt.Fprintf(&sb, "\n\n[Current time]\n%s", now.Format("Monday, 2006-01-02 15:04 MST"))

	return []llm.Message{
		{Role: "system", Content: sb.String()},
		{Role: "user", Content: note},
	}
}

// fieldsSchema returns the JSON schema for structured extraction output.
func fieldsSchema() *llm.Schema {
	unit := func() *llm.Schema {
		return &llm.Schema{Type: "number", Minimum: llm.Float(0), Maximum: llm.Float(1)}
	}
	return &llm.Schema{
		Type: "object",
		Properties: map[string]*llm.Schema{
			"card_type":   {Type: "string", Enum: []string{"task", "reminder", "idea_note"}},
			"description": {Type: "string", MinLength: llm.Int(1)},
			"date_text":   {Type: "string", Nullable: true, Description: "Date or time phrase as written"},
			"assignee":    {Type: "string", Nullable: true},
			"context_keywords": {
				Type:  "array",
				Items: &llm.Schema{Type: "string"},
			},
			"entities": {
				Type: "array",
				Items: &llm.Schema{
					Type: "object",
					Properties: map[string]*llm.Schema{
						"entity_type": {Type: "string", Enum: []string{"person", "company", "project", "theme"}},
						"value":       {Type: "string", MinLength: llm.Int(1)},
						"role":        {Type: "string", Enum: []string{"assignee", "mentioned", "context"}},
						"confidence":  unit(),
					},
					Required: []string{"entity_type", "value"},
				},
			},
			"confidence": unit(),
		},
		Required: []string{"card_type", "description", "context_keywords"},
	}
}

// storageCardType maps loose spellings to a card type; unknown values pass
// through and fail validation.
func storageCardType(s string) storage.CardType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "task":
		return storage.CardTask
	case "reminder":
		return storage.CardReminder
	case "idea_note", "idea", "note":
		return storage.CardIdea
	}
	return storage.CardType(s)
}
