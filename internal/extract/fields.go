// Package extract turns a raw note into structured card fields, using an
// LLM when one is configured and a deterministic rule set otherwise.
package extract

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Versions recorded with every ingestion event.
const (
	PromptVersion = "ingestion.v1"
	SchemaVersion = "ingestion.schema.v1"
)

// ErrInvalidFields wraps validation failures of extracted fields.
var ErrInvalidFields = errors.New("invalid extracted fields")

// Fields is the structured reading of one note.
type Fields struct {
	CardType    storage.CardType `json:"card_type" validate:"required,oneof=task reminder idea_note"`
	Description string           `json:"description" validate:"required"`
	DateText    string           `json:"date_text,omitempty"`
	Assignee    string           `json:"assignee,omitempty"`
	Keywords    []string         `json:"context_keywords"`
	Entities    []Entity         `json:"entities" validate:"dive"`
	Confidence  float64          `json:"confidence" validate:"gte=0,lte=1"`
}

// Entity is a named thing the note mentions.
type Entity struct {
	Type       string  `json:"entity_type" validate:"required,oneof=person company project theme"`
	Value      string  `json:"value" validate:"required"`
	Role       string  `json:"role" validate:"omitempty,oneof=assignee mentioned context"`
	Confidence float64 `json:"confidence" validate:"gte=0,lte=1"`
}

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// Validate checks the field constraints.
func (f Fields) Validate() error {
	if err := getValidator().Struct(f); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFields, err)
	}
	return nil
}

// normalize trims text fields, lowercases and dedupes keywords, and fills
// entity defaults.
func (f Fields) normalize() Fields {
	f.Description = strings.TrimSpace(f.Description)
	f.DateText = strings.TrimSpace(f.DateText)
	f.Assignee = strings.TrimSpace(f.Assignee)
	f.Keywords = NormalizeKeywords(f.Keywords)
	for i := range f.Entities {
		f.Entities[i].Value = strings.TrimSpace(f.Entities[i].Value)
		if f.Entities[i].Role == "" {
			f.Entities[i].Role = "mentioned"
		}
	}
	return f
}

// NormalizeKeywords trims and lowercases keywords, dropping empties and
// duplicates while keeping first-seen order.
func NormalizeKeywords(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, k := range in {
		k = strings.ToLower(strings.TrimSpace(k))
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}

// StorageEntities converts extracted entities to storage records.
func (f Fields) StorageEntities() []storage.Entity {
	out := make([]storage.Entity, 0, len(f.Entities))
	for _, e := range f.Entities {
		out = append(out, storage.Entity{Type: e.Type, Value: e.Value, Role: e.Role, Confidence: e.Confidence})
	}
	return out
}
