package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
)

type mockChatter struct {
	reply string
	err   error
	calls int
	last  []llm.Message
}

func (m *mockChatter) Chat(_ context.Context, messages []llm.Message, _ *llm.Schema) (string, error) {
	m.calls++
	m.last = messages
	return m.reply, m.err
}

func TestFallback_Types(t *testing.T) {
	tests := []struct {
		note string
		want storage.CardType
		date string
	}{
		{"Call Sarah about quarterly budget", storage.CardTask, ""},
		{"Pick up milk tomorrow", storage.CardReminder, "tomorrow"},
		{"Don't forget the passport", storage.CardReminder, ""},
		{"A podcast about urban gardens", storage.CardIdea, ""},
		{"We should review the Q3 plan next week", storage.CardTask, "next week"},
	}
	for _, tt := range tests {
		t.Run(tt.note, func(t *testing.T) {
			f := Fallback{}.Extract(tt.note)
			assert.Equal(t, tt.want, f.CardType)
			assert.Equal(t, tt.date, f.DateText)
			assert.Equal(t, tt.note, f.Description)
			assert.Equal(t, 0.55, f.Confidence)
		})
	}
}

func TestFallback_Assignee(t *testing.T) {
	f := Fallback{}.Extract("Call Sarah about quarterly budget")
	assert.Equal(t, "Sarah", f.Assignee)
	require.Len(t, f.Entities, 1)
	assert.Equal(t, Entity{Type: "person", Value: "Sarah", Role: "assignee", Confidence: 0.6}, f.Entities[0])

	f = Fallback{}.Extract("Lunch with Omar on friday")
	assert.Equal(t, "Omar", f.Assignee)

	f = Fallback{}.Extract("buy a new lamp")
	assert.Empty(t, f.Assignee)
	assert.Empty(t, f.Entities)
}

func TestFallback_Keywords(t *testing.T) {
	f := Fallback{}.Extract("Call Sarah about quarterly budget")
	assert.Equal(t, []string{"about", "budget", "call", "quarterly", "sarah"}, f.Keywords)

	f = Fallback{}.Extract("alpha beta gamma delta epsilon zeta eta theta iota kappa")
	// First eight tokens, sorted, then the first six of those.
	assert.Equal(t, []string{"alpha", "beta", "delta", "epsilon", "eta", "gamma"}, f.Keywords)
}

func TestNormalizeKeywords(t *testing.T) {
	assert.Equal(t, []string{"budget", "q3"}, NormalizeKeywords([]string{" Budget", "", "q3", "BUDGET"}))
	assert.Empty(t, NormalizeKeywords(nil))
}

func TestExtractor_LLMSuccess(t *testing.T) {
	chat := &mockChatter{reply: `{"card_type":"Task","description":" Call Sarah about Q3 budget ","date_text":null,
		"assignee":"Sarah","context_keywords":["Budget","q3","sarah"],
		"entities":[{"entity_type":"person","value":"Sarah","role":"assignee","confidence":0.9}],"confidence":0.8}`}
	e := NewExtractor(chat, "openai:gpt-4o-mini", "UTC", nil)

	res := e.Extract(context.Background(), "call sarah re q3 budget")
	assert.True(t, res.Success)
	assert.Equal(t, "openai:gpt-4o-mini", res.ModelName)
	assert.Equal(t, PromptVersion, res.PromptVersion)
	assert.Equal(t, storage.CardTask, res.Fields.CardType)
	assert.Equal(t, "Call Sarah about Q3 budget", res.Fields.Description)
	assert.Equal(t, []string{"budget", "q3", "sarah"}, res.Fields.Keywords)
	assert.Empty(t, res.Fields.DateText)

	require.Len(t, chat.last, 2)
	assert.Equal(t, "system", chat.last[0].Role)
	assert.Equal(t, "call sarah re q3 budget", chat.last[1].Content)
}

func TestExtractor_FallsBack(t *testing.T) {
	tests := []struct {
		name string
		chat *mockChatter
	}{
		{"chat error", &mockChatter{err: errors.New("timeout")}},
		{"malformed json", &mockChatter{reply: `{"card_type":`}},
		{"invalid type", &mockChatter{reply: `{"card_type":"memo","description":"x","context_keywords":[]}`}},
		{"empty description", &mockChatter{reply: `{"card_type":"task","description":"  ","context_keywords":[]}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewExtractor(tt.chat, "openai:gpt-4o-mini", "", nil)
			res := e.Extract(context.Background(), "Call Sarah about quarterly budget")
			assert.False(t, res.Success)
			assert.Equal(t, fallbackModel, res.ModelName)
			assert.NotEmpty(t, res.ErrorText)
			assert.Equal(t, storage.CardTask, res.Fields.CardType)
			assert.Equal(t, "Sarah", res.Fields.Assignee)
		})
	}
}

func TestExtractor_NoClient(t *testing.T) {
	res := NewExtractor(nil, "", "", nil).Extract(context.Background(), "Idea: shared grocery list")
	assert.False(t, res.Success)
	assert.Equal(t, "llm unavailable", res.ErrorText)
	assert.Equal(t, storage.CardIdea, res.Fields.CardType)
}

func TestCheckNote(t *testing.T) {
	assert.ErrorIs(t, CheckNote("   \n"), ErrEmptyNote)
	assert.NoError(t, CheckNote("x"))
}

func TestFieldsValidate(t *testing.T) {
	f := Fields{CardType: storage.CardTask, Description: "x", Confidence: 1.5}
	assert.ErrorIs(t, f.Validate(), ErrInvalidFields)
	f.Confidence = 0.5
	assert.NoError(t, f.Validate())
}
