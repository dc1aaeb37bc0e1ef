// Package dates resolves the free-form date phrases found in notes
// ("tomorrow", "next monday at 3pm") into timestamps.
package dates

import (
	"fmt"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Parser resolves date phrases relative to the current time in one location.
type Parser struct {
	w   *when.Parser
	loc *time.Location
	now func() time.Time
}

// NewParser creates a Parser for the IANA timezone name tz ("" means UTC).
func NewParser(tz string) (*Parser, error) {
	loc := time.UTC
	if tz != "" {
		l, err := time.LoadLocation(tz)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", tz, err)
		}
		loc = l
	}
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return &Parser{w: w, loc: loc, now: time.Now}, nil
}

// Parse returns the time the phrase refers to, or nil when the phrase is
// empty or holds no recognizable date.
func (p *Parser) Parse(phrase string) (*time.Time, error) {
	phrase = strings.TrimSpace(phrase)
	if phrase == "" {
		return nil, nil
	}
	base := p.now().In(p.loc)
	r, err := p.w.Parse(phrase, base)
	if err != nil {
		return nil, fmt.Errorf("parsing date phrase %q: %w", phrase, err)
	}
	if r == nil {
		return nil, nil
	}
	t := r.Time
	return &t, nil
}
