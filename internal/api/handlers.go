package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/server"

	"github.com/DasithEdirisinghe/contextual-assistant/internal/extract"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/ingest"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/metrics"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/pipeline"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/storage"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/thinking"
	"github.com/DasithEdirisinghe/contextual-assistant/internal/usercontext"
)

const maxRequestBodySize = 1 << 20 // 1MB

// NoteRequest is the body of POST /v1/notes and POST /v1/ingest.
type NoteRequest struct {
	Text string `json:"text"`
}

type AppDeps struct {
	Store        *storage.Store
	Orchestrator *pipeline.Orchestrator
	Context      *usercontext.Manager
	Thinker      *thinking.Thinker
	Metrics      *metrics.Collector
	Token        string
	// MCP is mounted at /mcp when set.
	MCP *server.MCPServer
}

// NewAppHandler builds the HTTP surface. /health and /metrics are open;
// everything else requires the bearer token.
func NewAppHandler(deps AppDeps) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Route("/v1", func(r chi.Router) {
			r.Post("/notes", handleEnqueueNote(deps))
			r.Post("/ingest", handleIngest(deps))
			r.Get("/jobs/{id}", handleGetJob(deps))
			r.Get("/cards", handleListCards(deps))
			r.Get("/envelopes", handleListEnvelopes(deps))
			r.Get("/envelopes/{id}", handleGetEnvelope(deps))
			r.Get("/envelopes/{id}/cards", handleEnvelopeCards(deps))
			r.Get("/context", handleGetContext(deps))
			r.Post("/thinking/runs", handleRunThinking(deps))
			r.Get("/thinking/runs", handleListRuns(deps))
			r.Get("/suggestions", handleListSuggestions(deps))
			r.Get("/suggestions/report", handleSuggestionReport(deps))
			r.Patch("/suggestions/{id}", handlePatchSuggestion(deps))
		})

		if deps.MCP != nil {
			r.Handle("/mcp", server.NewStreamableHTTPServer(deps.MCP))
		}
	})

	return r
}

func decodeNote(w http.ResponseWriter, r *http.Request) (string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	var req NoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return "", false
	}
	if err := extract.CheckNote(req.Text); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
		return "", false
	}
	return req.Text, true
}

func handleEnqueueNote(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, ok := decodeNote(w, r)
		if !ok {
			return
		}
		id, err := ingest.EnqueueNote(r.Context(), deps.Store, text)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to enqueue note: %v", err)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{
			"job_id": id,
			"status": "queued",
		})
	}
}

func handleIngest(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		text, ok := decodeNote(w, r)
		if !ok {
			return
		}
		res, err := deps.Orchestrator.IngestNote(r.Context(), text)
		if errors.Is(err, extract.ErrEmptyNote) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "text is required")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "ingestion failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func handleGetJob(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		job, err := deps.Store.GetJob(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "job not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get job: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, job)
	}
}

func handleListCards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 200)
		cards, err := deps.Store.ListCards(r.Context(), limit)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list cards: %v", err)
			return
		}
		if cards == nil {
			cards = []storage.Card{}
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

func handleListEnvelopes(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		envs, err := deps.Store.ListEnvelopes(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list envelopes: %v", err)
			return
		}
		if envs == nil {
			envs = []storage.Envelope{}
		}
		writeJSON(w, http.StatusOK, envs)
	}
}

func handleGetEnvelope(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		env, err := deps.Store.GetEnvelope(r.Context(), chi.URLParam(r, "id"))
		if errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "envelope not found")
			return
		}
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get envelope: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, env)
	}
}

func handleEnvelopeCards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetEnvelope(r.Context(), id); errors.Is(err, storage.ErrNotFound) {
			httpError(w, http.StatusNotFound, "not_found", "envelope not found")
			return
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to get envelope: %v", err)
			return
		}
		cards, err := deps.Store.ListCardsByEnvelope(r.Context(), id)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list cards: %v", err)
			return
		}
		if cards == nil {
			cards = []storage.Card{}
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

func handleGetContext(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snap, err := deps.Context.Current(r.Context(), deps.Store)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load context: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	}
}

func handleRunThinking(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		out, err := deps.Thinker.Run(r.Context())
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "thinking run failed: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, out)
	}
}

func handleListRuns(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		runs, err := deps.Store.ListRuns(r.Context(), parseIntParam(r, "limit", 20, 100))
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list runs: %v", err)
			return
		}
		if runs == nil {
			runs = []storage.ThinkingRun{}
		}
		writeJSON(w, http.StatusOK, runs)
	}
}

func listSuggestions(deps AppDeps, r *http.Request) ([]storage.Suggestion, error) {
	status := r.URL.Query().Get("status")
	if status == "" {
		status = thinking.StatusOpen
	} else if status == "all" {
		status = ""
	}
	return deps.Store.ListSuggestions(r.Context(), status, parseIntParam(r, "limit", 50, 200))
}

func handleListSuggestions(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sugs, err := listSuggestions(deps, r)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestions: %v", err)
			return
		}
		if sugs == nil {
			sugs = []storage.Suggestion{}
		}
		writeJSON(w, http.StatusOK, sugs)
	}
}

func handleSuggestionReport(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sugs, err := listSuggestions(deps, r)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list suggestions: %v", err)
			return
		}
		html, err := thinking.RenderReport(sugs)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to render report: %v", err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if _, err := w.Write([]byte(html)); err != nil {
			slog.Debug("writing report failed", "error", err)
		}
	}
}

func handlePatchSuggestion(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		var req struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		sug, err := thinking.SetStatus(r.Context(), deps.Store, chi.URLParam(r, "id"), req.Status)
		switch {
		case errors.Is(err, thinking.ErrInvalidStatus):
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
			return
		case errors.Is(err, storage.ErrNotFound):
			httpError(w, http.StatusNotFound, "not_found", "suggestion not found")
			return
		case err != nil:
			httpError(w, http.StatusInternalServerError, "api_error", "failed to update suggestion: %v", err)
			return
		}
		writeJSON(w, http.StatusOK, sug)
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("encoding response failed", "error", err)
	}
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v <= 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
