// Package metrics holds the Prometheus collectors shared by the redline engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SuggestionsDropped counts suggestions excluded from a projection pass.
	SuggestionsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redline_suggestions_dropped_total",
		Help: "Suggestions excluded from projection by reason",
	}, []string{"reason"})

	// SuggestionsInvalidated counts suggestions invalidated by manual edits.
	SuggestionsInvalidated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redline_suggestions_invalidated_total",
		Help: "Suggestions invalidated because a manual edit touched their range",
	})

	// Transitions counts lifecycle status changes.
	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redline_suggestion_transitions_total",
		Help: "Suggestion status transitions by target status",
	}, []string{"status"})

	// Projections counts projector runs.
	Projections = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redline_projections_total",
		Help: "Markup projections computed",
	})

	// ProjectionMismatches counts splices whose range text differed from the suggestion.
	ProjectionMismatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "redline_projection_mismatches_total",
		Help: "Splices where the literal range text did not match the suggestion's original text",
	})

	// SyncUpdates counts synchronizer outcomes.
	SyncUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redline_sync_updates_total",
		Help: "Surface updates by outcome",
	}, []string{"outcome"})

	// ExtractionTier counts which fallback tier supplied base content.
	ExtractionTier = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "redline_extraction_tier_total",
		Help: "Base content sources by fallback tier",
	}, []string{"tier"})

	// AnalyzeDuration tracks analyzer call latency.
	AnalyzeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "redline_analyze_duration_seconds",
		Help:    "Analyzer call duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.25, 2, 10),
	})
)

// HTTPRequests counts API requests by method, route pattern and status code.
var HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "redline_http_requests_total",
	Help: "HTTP requests by method, route pattern and status code",
}, []string{"method", "route", "code"})
