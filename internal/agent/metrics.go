package agent

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	turnsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "turns_total",
			Help:      "Total conversation turns handled",
		},
		[]string{"outcome"}, // "answered", "fallback", "imagine", "failed"
	)

	llmCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "llm_calls_total",
			Help:      "Total LLM API calls",
		},
		[]string{"phase", "status"}, // phase: "plan", "synthesize", "fallback"
	)

	llmDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "concierge",
			Name:      "llm_duration_seconds",
			Help:      "Duration of LLM API calls in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~50s
		},
		[]string{"phase"},
	)

	toolExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "tool_executions_total",
			Help:      "Total capability executions during acting phases",
		},
		[]string{"outcome"}, // "ok", "error", "unknown"
	)

	forcedHintsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "concierge",
			Name:      "forced_tool_hints_total",
			Help:      "Turns where the heuristic appended a tool-use reinforcement",
		},
	)
)
