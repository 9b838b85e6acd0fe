// Package metrics exposes Prometheus counters for the completion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CompletionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_completions_total",
		Help: "Completed generation requests",
	})

	CompletionErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ravel_completion_errors_total",
		Help: "Failed generation requests by reason",
	}, []string{"reason"})

	TokensGenerated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_tokens_generated_total",
		Help: "Tokens sampled across all completions",
	})

	PromptTokens = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_prompt_tokens_total",
		Help: "Prompt tokens consumed, evaluated or cached",
	})

	PromptTokensCached = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_prompt_tokens_cached_total",
		Help: "Prompt tokens served from the state cache",
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_state_cache_hits_total",
		Help: "State cache lookups that passed token validation",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ravel_state_cache_misses_total",
		Help: "State cache lookups that missed or failed validation",
	})

	PromptDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "ravel_prompt_resolution_seconds",
		Help: "Time spent resolving prompt state",
	})

	GenerationDuration = promauto.NewSummary(prometheus.SummaryOpts{
		Name: "ravel_generation_seconds",
		Help: "Time spent in the token generation loop",
	})

	LaneQueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ravel_lane_queue_depth",
		Help: "Queued plus running tasks per evaluation lane",
	}, []string{"lane"})
)
