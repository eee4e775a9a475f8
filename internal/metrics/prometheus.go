package metrics

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	DetectionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "marketpulse_detection_duration_seconds",
			Help:    "Change detection duration in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"entity_kind"},
	)

	DetectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_detections_total",
			Help: "Total change detections run",
		},
		[]string{"entity_kind", "changed"},
	)

	ChangeEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_change_events_total",
			Help: "Total change events recorded",
		},
		[]string{"category", "significance"},
	)

	SimilarityScore = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "marketpulse_similarity_score",
			Help:    "Content similarity scores between observations",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 0.95, 1.0},
		},
	)

	RulesEvaluated = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketpulse_rules_evaluated_total",
			Help: "Total rule evaluations",
		},
	)

	RuleOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_rule_outcomes_total",
			Help: "Rule evaluation outcomes",
		},
		[]string{"outcome"},
	)

	AlertsCreated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_alerts_created_total",
			Help: "Total alerts created",
		},
		[]string{"priority", "category"},
	)

	DeliveriesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_deliveries_total",
			Help: "Total delivery attempts",
		},
		[]string{"channel", "status"},
	)

	InsightFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "marketpulse_insight_fallbacks_total",
			Help: "Alerts built with fallback insights because the provider was unavailable",
		},
	)

	CacheHits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	TargetsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "marketpulse_targets_active",
			Help: "Currently active monitoring targets",
		},
	)

	ObservationsFetched = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "marketpulse_observations_fetched_total",
			Help: "Total observations fetched from sources",
		},
		[]string{"status"},
	)
)

func Init() {
	prometheus.MustRegister(DetectionDuration)
	prometheus.MustRegister(DetectionsTotal)
	prometheus.MustRegister(ChangeEventsTotal)
	prometheus.MustRegister(SimilarityScore)
	prometheus.MustRegister(RulesEvaluated)
	prometheus.MustRegister(RuleOutcomes)
	prometheus.MustRegister(AlertsCreated)
	prometheus.MustRegister(DeliveriesTotal)
	prometheus.MustRegister(InsightFallbacks)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
	prometheus.MustRegister(TargetsActive)
	prometheus.MustRegister(ObservationsFetched)
}

func MetricsHandler() fiber.Handler {
	return adaptor.HTTPHandler(promhttp.Handler())
}
