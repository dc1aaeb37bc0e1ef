// Package thinking scans cards and envelopes for deadline conflicts, next
// steps and idea clusters, and records them as suggestions.
package thinking

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Suggestion types.
const (
	TypeConflict       = "conflict"
	TypeNextStep       = "next_step"
	TypeRecommendation = "recommendation"
)

// Priorities.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
)

const minIdeas = 3

// Candidate is a suggestion before it is stored.
type Candidate struct {
	Type        string         `json:"suggestion_type"`
	Title       string         `json:"title"`
	Message     string         `json:"message"`
	Priority    string         `json:"priority"`
	Score       float64        `json:"score"`
	Refs        map[string]any `json:"related_refs"`
	Fingerprint string         `json:"fingerprint"`
}

// EnvelopeCards is an envelope with its member cards.
type EnvelopeCards struct {
	Envelope storage.Envelope
	Cards    []storage.Card
}

func fingerprint(s string) string {
	sum := sha1.Sum([]byte(s))
	return hex.EncodeToString(sum[:])
}

// DetectConflicts flags assignees with two or more tasks due on the same
// day in loc.
func DetectConflicts(cards []storage.Card, loc *time.Location) []Candidate {
	type key struct{ assignee, day string }
	groups := make(map[key][]storage.Card)
	var order []key
	for _, c := range cards {
		if c.CardType != storage.CardTask || strings.TrimSpace(c.Assignee) == "" || c.DueAt == nil {
			continue
		}
		k := key{strings.ToLower(strings.TrimSpace(c.Assignee)), c.DueAt.In(loc).Format(time.DateOnly)}
		if _, ok := groups[k]; !ok {
			order = append(order, k)
		}
		groups[k] = append(groups[k], c)
	}

	var out []Candidate
	for _, k := range order {
		group := groups[k]
		if len(group) < 2 {
			continue
		}
		ids := make([]string, len(group))
		parts := make([]string, len(group))
		for i, c := range group {
			ids[i] = c.ID
			parts[i] = fmt.Sprintf("#%s %s", c.ID, c.Description)
		}
		sort.Strings(ids)
		assignee := group[0].Assignee
		fp := fingerprint(fmt.Sprintf("%s:%s:%s:%s", TypeConflict, k.assignee, k.day, strings.Join(ids, ",")))
		out = append(out, Candidate{
			Type:        TypeConflict,
			Title:       "Deadline Conflict for " + assignee,
			Message:     fmt.Sprintf("%s has %d tasks due on %s: %s", assignee, len(group), k.day, strings.Join(parts, "; ")),
			Priority:    PriorityHigh,
			Score:       min(1.0, 0.6+0.1*float64(len(group))),
			Refs:        map[string]any{"card_ids": ids, "assignee": assignee, "due_date": k.day},
			Fingerprint: fp,
		})
	}
	return out
}

// DetectNextSteps proposes one task per envelope: the earliest due, or the
// oldest when none has a due date.
func DetectNextSteps(envs []EnvelopeCards) []Candidate {
	var out []Candidate
	for _, e := range envs {
		var next *storage.Card
		for i := range e.Cards {
			c := &e.Cards[i]
			if c.CardType != storage.CardTask {
				continue
			}
			if next == nil || earlier(c, next) {
				next = c
			}
		}
		if next == nil {
			continue
		}
		out = append(out, Candidate{
			Type:        TypeNextStep,
			Title:       "Next Step in " + e.Envelope.Name,
			Message:     fmt.Sprintf("Prioritize task #%s: %s", next.ID, next.Description),
			Priority:    PriorityMedium,
			Score:       0.7,
			Refs:        map[string]any{"envelope_id": e.Envelope.ID, "card_id": next.ID},
			Fingerprint: fingerprint(fmt.Sprintf("%s:%s:%s", TypeNextStep, e.Envelope.ID, next.ID)),
		})
	}
	return out
}

// earlier orders dated tasks before undated ones, then by due date, then
// by creation time.
func earlier(a, b *storage.Card) bool {
	switch {
	case a.DueAt != nil && b.DueAt == nil:
		return true
	case a.DueAt == nil && b.DueAt != nil:
		return false
	case a.DueAt != nil && !a.DueAt.Equal(*b.DueAt):
		return a.DueAt.Before(*b.DueAt)
	}
	return a.CreatedAt.Before(b.CreatedAt)
}

// DetectRecommendations suggests planning for envelopes collecting several
// idea notes.
func DetectRecommendations(envs []EnvelopeCards) []Candidate {
	var out []Candidate
	for _, e := range envs {
		var ids []string
		for _, c := range e.Cards {
			if c.CardType == storage.CardIdea {
				ids = append(ids, c.ID)
			}
		}
		if len(ids) < minIdeas {
			continue
		}
		sort.Strings(ids)
		out = append(out, Candidate{
			Type:        TypeRecommendation,
			Title:       "Consolidate Ideas in " + e.Envelope.Name,
			Message:     fmt.Sprintf("You have %d ideas in this envelope. Consider creating an execution plan.", len(ids)),
			Priority:    PriorityMedium,
			Score:       0.65,
			Refs:        map[string]any{"envelope_id": e.Envelope.ID, "card_ids": ids},
			Fingerprint: fingerprint(fmt.Sprintf("%s:%s:ideas:%d", TypeRecommendation, e.Envelope.ID, len(ids))),
		})
	}
	return out
}

// BuildCandidates runs every rule.
func BuildCandidates(cards []storage.Card, envs []EnvelopeCards, loc *time.Location) []Candidate {
	var out []Candidate
	out = append(out, DetectConflicts(cards, loc)...)
	out = append(out, DetectNextSteps(envs)...)
	out = append(out, DetectRecommendations(envs)...)
	return out
}
