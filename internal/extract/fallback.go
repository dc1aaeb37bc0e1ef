package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

const fallbackConfidence = 0.55

var (
	dateMarkers   = []string{"tomorrow", "next monday", "next tuesday", "next week", "today", "tonight"}
	reminderWords = []string{"remember", "remind", "pick up", "dont forget", "don't forget"}
	taskVerbs     = []string{"call", "send", "prepare", "finish", "book", "review", "write", "plan", "schedule", "follow"}

	assigneePattern = regexp.MustCompile(`\b(?:with|to)\s+([A-Z][a-z]+)\b|\b(?:[Cc]all|[Ee]mail|[Mm]essage|[Pp]ing|[Mm]eet)\s+([A-Z][a-z]+)\b`)
	keywordPattern  = regexp.MustCompile(`[A-Za-z][A-Za-z0-9_-]+`)
)

// Fallback extracts fields with fixed rules. It never fails for non-empty text.
type Fallback struct{}

// Extract reads card fields from raw text.
func (Fallback) Extract(raw string) Fields {
	text := strings.TrimSpace(raw)
	lower := strings.ToLower(text)

	var dateText string
	for _, m := range dateMarkers {
		if strings.Contains(lower, m) {
			dateText = m
			break
		}
	}

	cardType := storage.CardIdea
	if dateText != "" || containsAny(lower, reminderWords) {
		cardType = storage.CardReminder
	}
	for _, v := range taskVerbs {
		if strings.HasPrefix(lower, v+" ") || strings.Contains(lower, " "+v+" ") {
			cardType = storage.CardTask
			break
		}
	}

	var assignee string
	var entities []Entity
	if m := assigneePattern.FindStringSubmatch(text); m != nil {
		for _, g := range m[1:] {
			if g != "" {
				assignee = g
				break
			}
		}
		entities = append(entities, Entity{Type: "person", Value: assignee, Role: "assignee", Confidence: 0.6})
	}

	keywords := KeywordsFromText(text, 8)
	if len(keywords) > 6 {
		keywords = keywords[:6]
	}

	return Fields{
		CardType:    cardType,
		Description: text,
		DateText:    dateText,
		Assignee:    assignee,
		Keywords:    keywords,
		Entities:    entities,
		Confidence:  fallbackConfidence,
	}
}

// KeywordsFromText takes the first limit word tokens of text and returns
// them lowercased, deduped and sorted.
func KeywordsFromText(text string, limit int) []string {
	tokens := keywordPattern.FindAllString(text, -1)
	if len(tokens) > limit {
		tokens = tokens[:limit]
	}
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[strings.ToLower(t)] = struct{}{}
	}
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
