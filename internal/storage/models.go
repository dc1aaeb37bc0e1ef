package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrDuplicateName is returned when an envelope name is already taken.
var ErrDuplicateName = errors.New("envelope name already exists")

// CardType classifies a card.
type CardType string

const (
	CardTask     CardType = "task"
	CardReminder CardType = "reminder"
	CardIdea     CardType = "idea_note"
)

// Valid reports whether t is one of the known card types.
func (t CardType) Valid() bool {
	switch t {
	case CardTask, CardReminder, CardIdea:
		return true
	}
	return false
}

// Card is the structured record persisted for one ingested note.
type Card struct {
	ID          string     `json:"id"`
	RawText     string     `json:"raw_text"`
	CardType    CardType   `json:"card_type"`
	Description string     `json:"description"`
	DueAt       *time.Time `json:"due_at,omitempty"`
	Assignee    string     `json:"assignee,omitempty"`
	Keywords    []string   `json:"keywords"`
	EnvelopeID  string     `json:"envelope_id,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// Entity is a person, organization, project or theme mentioned by a card.
type Entity struct {
	CardID     string  `json:"card_id"`
	Type       string  `json:"type"`
	Value      string  `json:"value"`
	Role       string  `json:"role,omitempty"`
	Confidence float64 `json:"confidence"`
}

// Envelope is a topical group of cards with its derived profile.
type Envelope struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Summary    string     `json:"summary"`
	Keywords   []string   `json:"keywords"`
	Centroid   []float32  `json:"-"`
	CardCount  int        `json:"card_count"`
	LastCardAt *time.Time `json:"last_card_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Profile is the derived part of an envelope, always written as a whole.
type Profile struct {
	Keywords   []string   `json:"keywords"`
	Centroid   []float32  `json:"-"`
	CardCount  int        `json:"card_count"`
	LastCardAt *time.Time `json:"last_card_at,omitempty"`
}

type IngestionEvent struct {
	ID            string    `json:"id"`
	CardID        string    `json:"card_id"`
	ModelName     string    `json:"model_name"`
	PromptVersion string    `json:"prompt_version"`
	SchemaVersion string    `json:"schema_version"`
	Success       bool      `json:"success"`
	LatencyMS     int64     `json:"latency_ms"`
	ErrorText     string    `json:"error_text,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// ContextSnapshot is the single structured user-context document.
type ContextSnapshot struct {
	ContextJSON  string    `json:"context_json"`
	FocusSummary string    `json:"focus_summary"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type ThinkingRun struct {
	ID          string     `json:"id"`
	Status      string     `json:"status"` // "started", "completed", "failed"
	SummaryJSON string     `json:"summary_json"`
	ErrorText   string     `json:"error_text,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type Suggestion struct {
	ID              string    `json:"id"`
	RunID           string    `json:"run_id"`
	Type            string    `json:"type"` // "conflict", "next_step", "recommendation"
	Title           string    `json:"title"`
	Message         string    `json:"message"`
	Priority        string    `json:"priority"` // "low", "medium", "high"
	Score           float64   `json:"score"`
	RelatedRefsJSON string    `json:"related_refs_json"`
	Fingerprint     string    `json:"fingerprint"`
	Status          string    `json:"status"` // "open", "accepted", "dismissed"
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload_json"`
	Status      string    `json:"status"` // "pending", "running", "completed", "failed"
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}
