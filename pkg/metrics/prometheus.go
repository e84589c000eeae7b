// Package metrics provides Prometheus metrics for the trustgate submission pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the trustgate service.
type Manager struct {
	namespace      string
	subsystem      string
	latencyBuckets []float64
	enabled        bool
	customLabels   map[string]string
	registry       prometheus.Registerer

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	errorsByEndpoint    *prometheus.CounterVec

	// Gate
	gateOutcomes *prometheus.CounterVec
	stageLatency *prometheus.HistogramVec
	contentScore *prometheus.HistogramVec
	trustScore   prometheus.Histogram

	// Rate limiting
	rateLimitDecisions   *prometheus.CounterVec
	rateLimitStoreErrors *prometheus.CounterVec

	// Verification
	captchaOutcomes *prometheus.CounterVec

	// Dispatch
	dispatchQueueSize prometheus.Gauge
	dispatchDelivered prometheus.Counter
	dispatchErrors    *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// scoreBuckets spans the 0..100 score range used by content and trust scoring.
var scoreBuckets = []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100} //nolint:gochecknoglobals

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:      "trustgate",
		subsystem:      "gate",
		latencyBuckets: []float64{0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		enabled:        true,
		customLabels:   make(map[string]string),
		registry:       prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	auto := promauto.With(m.registry)
	labels := prometheus.Labels(m.customLabels)

	m.httpRequests = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "http",
			Name:        "requests_total",
			Help:        "Total number of HTTP requests by endpoint, method and status",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.httpRequestDuration = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   "http",
			Name:        "request_duration_milliseconds",
			Help:        "HTTP request duration in milliseconds",
			Buckets:     m.latencyBuckets,
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "status_code"},
	)

	m.errorsByEndpoint = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "http",
			Name:        "errors_total",
			Help:        "HTTP error responses by endpoint, method and error class",
			ConstLabels: labels,
		},
		[]string{"endpoint", "method", "error_type"},
	)

	m.gateOutcomes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "outcomes_total",
			Help:        "Submission gate outcomes by endpoint class and result kind",
			ConstLabels: labels,
		},
		[]string{"endpoint", "outcome"},
	)

	m.stageLatency = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "stage_latency_milliseconds",
			Help:        "Latency of each gate stage in milliseconds",
			Buckets:     m.latencyBuckets,
			ConstLabels: labels,
		},
		[]string{"stage"},
	)

	m.contentScore = auto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace:   m.namespace,
			Subsystem:   m.subsystem,
			Name:        "content_score",
			Help:        "Content quality scores by field",
			Buckets:     scoreBuckets,
			ConstLabels: labels,
		},
		[]string{"field"},
	)

	m.trustScore = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace:   m.namespace,
		Subsystem:   m.subsystem,
		Name:        "trust_score",
		Help:        "Behavioral trust scores",
		Buckets:     scoreBuckets,
		ConstLabels: labels,
	})

	m.rateLimitDecisions = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "ratelimit",
			Name:        "decisions_total",
			Help:        "Rate-limit decisions by policy and result",
			ConstLabels: labels,
		},
		[]string{"policy", "result"},
	)

	m.rateLimitStoreErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "ratelimit",
			Name:        "store_errors_total",
			Help:        "Rate-limit store failures by policy and posture",
			ConstLabels: labels,
		},
		[]string{"policy", "posture"},
	)

	m.captchaOutcomes = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "captcha",
			Name:        "outcomes_total",
			Help:        "Human-verification outcomes",
			ConstLabels: labels,
		},
		[]string{"outcome"},
	)

	m.dispatchQueueSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace:   m.namespace,
		Subsystem:   "dispatch",
		Name:        "queue_size",
		Help:        "Accepted submissions waiting for delivery",
		ConstLabels: labels,
	})

	m.dispatchDelivered = auto.NewCounter(prometheus.CounterOpts{
		Namespace:   m.namespace,
		Subsystem:   "dispatch",
		Name:        "delivered_total",
		Help:        "Accepted submissions delivered to the notifier",
		ConstLabels: labels,
	})

	m.dispatchErrors = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace:   m.namespace,
			Subsystem:   "dispatch",
			Name:        "errors_total",
			Help:        "Dispatch failures by reason",
			ConstLabels: labels,
		},
		[]string{"reason"},
	)
}

// RecordHTTPRequest counts one HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	if globalManager.enabled {
		globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
	}
}

// RecordHTTPRequestDuration observes request latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	if globalManager.enabled {
		globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
	}
}

// RecordErrorByEndpoint counts an error response.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	if globalManager.enabled {
		globalManager.errorsByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
	}
}

// RecordGateOutcome counts a gate verdict. outcome is "accepted" or the rejection kind.
func RecordGateOutcome(endpoint, outcome string) {
	if globalManager.enabled {
		globalManager.gateOutcomes.WithLabelValues(endpoint, outcome).Inc()
	}
}

// RecordStageLatency observes the latency of one gate stage.
func RecordStageLatency(stage string, latencyMs float64) {
	if globalManager.enabled {
		globalManager.stageLatency.WithLabelValues(stage).Observe(latencyMs)
	}
}

// RecordContentScore observes a content quality score for a field.
func RecordContentScore(field string, score float64) {
	if globalManager.enabled {
		globalManager.contentScore.WithLabelValues(field).Observe(score)
	}
}

// RecordTrustScore observes a behavioral trust score.
func RecordTrustScore(score float64) {
	if globalManager.enabled {
		globalManager.trustScore.Observe(score)
	}
}

// RecordRateLimitDecision counts an allow or deny for a policy.
func RecordRateLimitDecision(policy string, allowed bool) {
	if !globalManager.enabled {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	globalManager.rateLimitDecisions.WithLabelValues(policy, result).Inc()
}

// RecordRateLimitStoreError counts a store failure.
func RecordRateLimitStoreError(policy, posture string) {
	if globalManager.enabled {
		globalManager.rateLimitStoreErrors.WithLabelValues(policy, posture).Inc()
	}
}

// RecordCaptchaOutcome counts a verification outcome.
func RecordCaptchaOutcome(outcome string) {
	if globalManager.enabled {
		globalManager.captchaOutcomes.WithLabelValues(outcome).Inc()
	}
}

// UpdateDispatchQueueSize sets the dispatch backlog gauge.
func UpdateDispatchQueueSize(size int) {
	if globalManager.enabled {
		globalManager.dispatchQueueSize.Set(float64(size))
	}
}

// RecordDispatchDelivered counts a successful delivery.
func RecordDispatchDelivered() {
	if globalManager.enabled {
		globalManager.dispatchDelivered.Inc()
	}
}

// RecordDispatchError counts a dispatch failure.
func RecordDispatchError(reason string) {
	if globalManager.enabled {
		globalManager.dispatchErrors.WithLabelValues(reason).Inc()
	}
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
