package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "nl2sql_query_duration_seconds",
			Help:    "End-to-end query pipeline duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"stage"},
	)

	QueryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_query_total",
			Help: "Total queries processed by outcome",
		},
		[]string{"status"},
	)

	TemplateHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_template_hits_total",
			Help: "Queries answered by a deterministic template",
		},
		[]string{"template"},
	)

	LLMFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_llm_fallback_total",
			Help: "Queries that fell back to model generation",
		},
	)

	ValidatorRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_validator_rejections_total",
			Help: "SQL candidates rejected by the validator",
		},
		[]string{"origin"},
	)

	PromotionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "nl2sql_promotions_total",
			Help: "Query log records promoted into the learned-examples collection",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_cache_hits_total",
			Help: "Embedding cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nl2sql_cache_misses_total",
			Help: "Embedding cache misses",
		},
		[]string{"cache_type"},
	)
)

func Init() {
	prometheus.MustRegister(QueryDuration)
	prometheus.MustRegister(QueryTotal)
	prometheus.MustRegister(TemplateHits)
	prometheus.MustRegister(LLMFallbacks)
	prometheus.MustRegister(ValidatorRejections)
	prometheus.MustRegister(PromotionsTotal)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
