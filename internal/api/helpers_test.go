package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/dates"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/embedding"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/envelope"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/extract"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

const testToken = "test-token-12345"

// newTestDeps wires the full ingestion stack with rule-based extraction and
// lexical similarity over an in-memory store.
func newTestDeps(t *testing.T) AppDeps {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	m := metrics.New()
	sim := embedding.NewAdapter(embedding.Config{Provider: "lexical"}, nil, m)
	parser, err := dates.NewParser("UTC")
	if err != nil {
		t.Fatal(err)
	}
	ctxMgr := usercontext.NewManager(usercontext.NewUpdater(nil), m)

	orch := pipeline.NewOrchestrator(
		store,
		extract.NewExtractor(nil, "", "UTC", m),
		parser,
		envelope.NewRouter(envelope.NewScorer(sim, envelope.DefaultWeights()), sim, envelope.DefaultThreshold, m),
		envelope.NewMaintainer(envelope.NewProfileBuilder(sim), envelope.NewRefiner(nil, m)),
		ctxMgr,
		m,
	)

	return AppDeps{
		Store:        store,
		Orchestrator: orch,
		Context:      ctxMgr,
		Thinker:      thinking.New(store, "", time.UTC, m),
		Metrics:      m,
		Token:        testToken,
	}
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func serve(h http.Handler, req *http.Request) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}
