// Package usercontext maintains the structured picture of the user (people,
// projects, upcoming items) that is rewritten after each ingested note.
package usercontext

import (
	"encoding/json"
	"time"
)

// Item is one remembered person, organization, project or theme.
type Item struct {
	Name            string     `json:"name"`
	Strength        float64    `json:"strength"`
	EvidenceCardIDs []string   `json:"evidence_card_ids"`
	LastSeenAt      *time.Time `json:"last_seen_at,omitempty"`
}

// Upcoming is a card worth surfacing soon.
type Upcoming struct {
	CardID string `json:"card_id"`
	Title  string `json:"title"`
	Reason string `json:"reason"`
}

// Context is the structured user context.
type Context struct {
	People            []Item     `json:"people"`
	Organizations     []Item     `json:"organizations"`
	Projects          []Item     `json:"projects"`
	Themes            []Item     `json:"themes"`
	ImportantUpcoming []Upcoming `json:"important_upcoming"`
	Miscellaneous     []Item     `json:"miscellaneous"`
}

// Update is what the model returns: the new context and a one-line focus.
type Update struct {
	Context      Context `json:"context"`
	FocusSummary string  `json:"focus_summary"`
}

// Empty returns a context with every list present and empty.
func Empty() Context {
	return Context{
		People:            []Item{},
		Organizations:     []Item{},
		Projects:          []Item{},
		Themes:            []Item{},
		ImportantUpcoming: []Upcoming{},
		Miscellaneous:     []Item{},
	}
}

// fill replaces nil lists with empty ones so the stored JSON is stable.
func (c Context) fill() Context {
	e := Empty()
	if c.People == nil {
		c.People = e.People
	}
	if c.Organizations == nil {
		c.Organizations = e.Organizations
	}
	if c.Projects == nil {
		c.Projects = e.Projects
	}
	if c.Themes == nil {
		c.Themes = e.Themes
	}
	if c.ImportantUpcoming == nil {
		c.ImportantUpcoming = e.ImportantUpcoming
	}
	if c.Miscellaneous == nil {
		c.Miscellaneous = e.Miscellaneous
	}
	return c
}

func emptyJSON() string {
	b, _ := json.Marshal(Empty())
	return string(b)
}
