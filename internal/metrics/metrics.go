// Package metrics exposes Prometheus counters and histograms for routing,
// embedding and background work. All recording methods are safe on a nil
// *Collector so components can run without metrics wired in.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "assistant"

// Collector holds the application's metrics and the registry they live in.
type Collector struct {
	registry *prometheus.Registry

	RoutingDecisions *prometheus.CounterVec
	MatchScore       prometheus.Histogram
	Embeddings       *prometheus.CounterVec
	LLMFallbacks     *prometheus.CounterVec
	Ingestions       *prometheus.CounterVec
	IngestDuration   prometheus.Histogram
	Suggestions      *prometheus.CounterVec
	Jobs             *prometheus.CounterVec
}

// New creates a Collector on a fresh registry.
func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		RoutingDecisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routing_decisions_total",
			Help:      "Envelope routing decisions by action.",
		}, []string{"action"}),
		MatchScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "envelope_match_score",
			Help:      "Best envelope match score per routed note.",
			Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
		}),
		Embeddings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "embedding_requests_total",
			Help:      "Embedding lookups by outcome (hit, miss, failure, skipped).",
		}, []string{"result"}),
		LLMFallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_fallbacks_total",
			Help:      "Times a component fell back to its deterministic path.",
		}, []string{"component"}),
		Ingestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ingestions_total",
			Help:      "Note ingestions by status.",
		}, []string{"status"}),
		IngestDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "ingest_duration_seconds",
			Help:      "Wall time of a full note ingestion.",
			Buckets:   prometheus.DefBuckets,
		}),
		Suggestions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "suggestions_created_total",
			Help:      "Suggestions recorded by thinking runs, by type.",
		}, []string{"type"}),
		Jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_processed_total",
			Help:      "Background jobs processed by type and status.",
		}, []string{"type", "status"}),
	}

	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.RoutingDecisions, c.MatchScore, c.Embeddings, c.LLMFallbacks,
		c.Ingestions, c.IngestDuration, c.Suggestions, c.Jobs,
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) RecordRouting(action string, score float64) {
	if c == nil {
		return
	}
	c.RoutingDecisions.WithLabelValues(action).Inc()
	c.MatchScore.Observe(score)
}

func (c *Collector) RecordEmbedding(result string) {
	if c == nil {
		return
	}
	c.Embeddings.WithLabelValues(result).Inc()
}

func (c *Collector) RecordFallback(component string) {
	if c == nil {
		return
	}
	c.LLMFallbacks.WithLabelValues(component).Inc()
}

func (c *Collector) RecordIngestion(status string, d time.Duration) {
	if c == nil {
		return
	}
	c.Ingestions.WithLabelValues(status).Inc()
	c.IngestDuration.Observe(d.Seconds())
}

func (c *Collector) RecordSuggestion(kind string) {
	if c == nil {
		return
	}
	c.Suggestions.WithLabelValues(kind).Inc()
}

func (c *Collector) RecordJob(kind, status string) {
	if c == nil {
		return
	}
	c.Jobs.WithLabelValues(kind, status).Inc()
}
