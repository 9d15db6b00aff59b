package metrics

import (
	"sync"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TurnDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "research_agent_turn_duration_seconds",
			Help:    "Chat turn duration in seconds",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"finish_reason"},
	)

	TurnTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_turn_total",
			Help: "Total number of chat turns processed",
		},
		[]string{"status"},
	)

	FramesEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_frames_emitted_total",
			Help: "Protocol frames written by kind",
		},
		[]string{"kind"},
	)

	ChartOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_chart_extractions_total",
			Help: "Chart payload extraction outcomes",
		},
		[]string{"outcome"},
	)

	DepthAdvances = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_depth_advances_total",
			Help: "Total research depth advances",
		},
	)

	SourcesScored = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "research_agent_source_relevance",
			Help:    "Relevance score of ingested sources",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	ToolCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_tool_calls_total",
			Help: "Total tool calls executed",
		},
		[]string{"tool", "status"},
	)

	RelatedQuestionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "research_agent_related_questions_failures_total",
			Help: "Related-question generations that failed",
		},
	)

	PersistenceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_persistence_failures_total",
			Help: "Failed writes to storage",
		},
		[]string{"target"},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	UpstreamRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_upstream_retries_total",
			Help: "Retried calls to upstream services",
		},
		[]string{"operation"},
	)

	CircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "research_agent_circuit_state",
			Help: "Circuit breaker state (0 closed, 1 half-open, 2 open)",
		},
		[]string{"name"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "research_agent_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)
)

var initOnce sync.Once

func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(TurnDuration)
		prometheus.MustRegister(TurnTotal)
		prometheus.MustRegister(FramesEmitted)
		prometheus.MustRegister(ChartOutcomes)
		prometheus.MustRegister(DepthAdvances)
		prometheus.MustRegister(SourcesScored)
		prometheus.MustRegister(ToolCalls)
		prometheus.MustRegister(RelatedQuestionFailures)
		prometheus.MustRegister(PersistenceFailures)
		prometheus.MustRegister(LLMTokensUsed)
		prometheus.MustRegister(CacheHits)
		prometheus.MustRegister(CacheMisses)
		prometheus.MustRegister(UpstreamRetries)
		prometheus.MustRegister(CircuitState)
	})
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
