package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/dates"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/embedding"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/envelope"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/extract"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/llm"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

// scriptedChatter returns canned replies keyed by the last message content.
type scriptedChatter struct {
	replies map[string]string
	err     error
	onCall  func()
}

func (s *scriptedChatter) Chat(_ context.Context, messages []llm.Message, _ *llm.Schema) (string, error) {
	if s.onCall != nil {
		s.onCall()
	}
	if s.err != nil {
		return "", s.err
	}
	if r, ok := s.replies[messages[len(messages)-1].Content]; ok {
		return r, nil
	}
	return "", errors.New("no scripted reply")
}

type harness struct {
	store *storage.Store
	orch  *Orchestrator
}

func newHarness(t *testing.T, extractor extract.Chatter, contextChat usercontext.Chatter, threshold float64) harness {
	t.Helper()
	store, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	sim := embedding.NewAdapter(embedding.Config{Provider: "lexical"}, nil, m)
	parser, err := dates.NewParser("UTC")
	require.NoError(t, err)

	orch := NewOrchestrator(
		store,
		extract.NewExtractor(extractor, "stub:model", "UTC", m),
		parser,
		envelope.NewRouter(envelope.NewScorer(sim, envelope.DefaultWeights()), sim, threshold, m),
		envelope.NewMaintainer(envelope.NewProfileBuilder(sim), envelope.NewRefiner(nil, m)),
		usercontext.NewManager(usercontext.NewUpdater(contextChat), m),
		m,
	)
	return harness{store: store, orch: orch}
}

func TestIngestNote_RejectsEmpty(t *testing.T) {
	h := newHarness(t, nil, nil, envelope.DefaultThreshold)
	_, err := h.orch.IngestNote(context.Background(), "   \n\t")
	assert.ErrorIs(t, err, extract.ErrEmptyNote)

	cards, err := h.store.ListCards(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, cards)
}

func TestIngestNote_FallbackPath(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, nil, envelope.DefaultThreshold)

	res, err := h.orch.IngestNote(ctx, "Call Sarah about quarterly budget tomorrow")
	require.NoError(t, err)
	assert.Equal(t, envelope.ActionCreate, res.Action)
	assert.Equal(t, storage.CardTask, res.Card.CardType)
	assert.Equal(t, "Sarah", res.Card.Assignee)
	assert.NotNil(t, res.Card.DueAt)
	assert.False(t, res.LLMSuccess)
	assert.Equal(t, "fallback:rules", res.ModelName)
	assert.False(t, res.ContextUpdated)
	assert.Contains(t, res.Reason, "threshold(0.55) not met")

	env, err := h.store.GetEnvelope(ctx, res.EnvelopeID)
	require.NoError(t, err)
	assert.Equal(t, 1, env.CardCount)
	assert.Equal(t, res.EnvelopeName, env.Name)
	assert.NotEmpty(t, env.Keywords)

	events, err := h.store.ListIngestionEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, res.Card.ID, events[0].CardID)
	assert.Equal(t, extract.SchemaVersion, events[0].SchemaVersion)
	assert.False(t, events[0].Success)

	entities, err := h.store.ListEntities(ctx, res.Card.ID)
	require.NoError(t, err)
	require.Len(t, entities, 1)
	assert.Equal(t, "Sarah", entities[0].Value)
}

func TestIngestNote_SameSeedNameSharesEnvelope(t *testing.T) {
	ctx := context.Background()
	notes := map[string]string{
		"Prepare the Q3 budget slides": `{"card_type":"task","description":"Prepare the Q3 budget slides","context_keywords":["q3_budget","slides"],"entities":[],"confidence":0.9}`,
		"Email finance the Q3 numbers": `{"card_type":"task","description":"Email finance the Q3 numbers","context_keywords":["q3_budget","finance"],"entities":[],"confidence":0.9}`,
	}
	// A threshold no score can reach forces both notes down the create path.
	h := newHarness(t, &scriptedChatter{replies: notes}, nil, 3.0)

	first, err := h.orch.IngestNote(ctx, "Prepare the Q3 budget slides")
	require.NoError(t, err)
	second, err := h.orch.IngestNote(ctx, "Email finance the Q3 numbers")
	require.NoError(t, err)

	assert.True(t, first.LLMSuccess)
	assert.Equal(t, "Q3 Budget", first.EnvelopeName)
	assert.Equal(t, first.EnvelopeID, second.EnvelopeID)

	envs, err := h.store.ListEnvelopes(ctx)
	require.NoError(t, err)
	require.Len(t, envs, 1)
	assert.Equal(t, 2, envs[0].CardCount)

	cards, err := h.store.ListCardsByEnvelope(ctx, envs[0].ID)
	require.NoError(t, err)
	assert.Len(t, cards, 2)
}

func TestIngestNote_UpdatesContext(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, nil, alwaysReply(`{"context":{"projects":[{"name":"Garden","strength":0.5}]},"focus_summary":"gardening"}`), envelope.DefaultThreshold)

	res, err := h.orch.IngestNote(ctx, "Plant tomatoes in the garden")
	require.NoError(t, err)
	assert.True(t, res.ContextUpdated)

	snap, err := h.store.GetContextSnapshot(ctx)
	require.NoError(t, err)
	assert.Equal(t, "gardening", snap.FocusSummary)
}

type alwaysReply string

func (a alwaysReply) Chat(context.Context, []llm.Message, *llm.Schema) (string, error) {
	return string(a), nil
}

func TestIngestNote_RollsBackOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	// Cancelling while the transaction is open makes the remaining writes fail.
	contextChat := &scriptedChatter{err: errors.New("interrupted"), onCall: cancel}
	h := newHarness(t, nil, contextChat, envelope.DefaultThreshold)

	_, err := h.orch.IngestNote(ctx, "Book flights to Lisbon next week")
	require.Error(t, err)

	bg := context.Background()
	cards, err := h.store.ListCards(bg, 10)
	require.NoError(t, err)
	assert.Empty(t, cards)
	envs, err := h.store.ListEnvelopes(bg)
	require.NoError(t, err)
	assert.Empty(t, envs)
	events, err := h.store.ListIngestionEvents(bg, 10)
	require.NoError(t, err)
	assert.Empty(t, events)
}

// duringChatter runs during before replying, while the ingest transaction
// is open.
type duringChatter struct {
	reply  string
	during func()
}

func (c *duringChatter) Chat(context.Context, []llm.Message, *llm.Schema) (string, error) {
	if c.during != nil {
		c.during()
	}
	return c.reply, nil
}

func TestIngestNote_ConcurrentContextRead(t *testing.T) {
	ctx := context.Background()
	readDone := make(chan error, 1)
	chat := &duringChatter{reply: `{"context":{"projects":[{"name":"Garden","strength":0.5}]},"focus_summary":"gardening"}`}
	h := newHarness(t, nil, chat, envelope.DefaultThreshold)
	chat.during = func() {
		go func() {
			_, err := h.orch.context.Current(ctx, h.store)
			readDone <- err
		}()
		time.Sleep(100 * time.Millisecond)
	}

	ingestDone := make(chan error, 1)
	go func() {
		_, err := h.orch.IngestNote(ctx, "Plant tomatoes in the garden")
		ingestDone <- err
	}()

	select {
	case err := <-ingestDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("ingestion blocked by a concurrent context read")
	}
	select {
	case err := <-readDone:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("context read never finished")
	}

	snap, err := h.orch.context.Current(ctx, h.store)
	require.NoError(t, err)
	assert.Equal(t, "gardening", snap.FocusSummary)
}
