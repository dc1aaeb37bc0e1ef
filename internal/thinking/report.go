package thinking

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

// Markdown lists suggestions grouped by type.
func Markdown(suggestions []storage.Suggestion) string {
	var b strings.Builder
	b.WriteString("# Suggestions\n\n")
	if len(suggestions) == 0 {
		b.WriteString("Nothing to suggest right now.\n")
		return b.String()
	}
	for _, typ := range []string{TypeConflict, TypeNextStep, TypeRecommendation} {
		var group []storage.Suggestion
		for _, s := range suggestions {
			if s.Type == typ {
				group = append(group, s)
			}
		}
		if len(group) == 0 {
			continue
		}
		fmt.Fprintf(&b, "## %s\n\n", sectionTitle(typ))
		for _, s := range group {
			fmt.Fprintf(&b, "- **%s** (%s, %.2f): %s\n", s.Title, s.Priority, s.Score, s.Message)
		}
		b.WriteString("\n")
	}
	return b.String()
}

func sectionTitle(typ string) string {
	switch typ {
	case TypeConflict:
		return "Conflicts"
	case TypeNextStep:
		return "Next steps"
	default:
		return "Recommendations"
	}
}

// RenderReport renders suggestions as an HTML fragment.
func RenderReport(suggestions []storage.Suggestion) (string, error) {
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(Markdown(suggestions)), &buf); err != nil {
		return "", fmt.Errorf("rendering suggestions report: %w", err)
	}
	return buf.String(), nil
}
