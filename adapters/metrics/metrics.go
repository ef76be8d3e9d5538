// Package metrics provides Prometheus metrics collection.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector holds all Prometheus metrics for the metering layer.
type Collector struct {
	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth metrics
	AuthFailures *prometheus.CounterVec

	// Rate limit metrics
	RateLimitHits *prometheus.CounterVec

	// Credit metrics
	CreditsDeducted     prometheus.Counter
	CreditsGranted      prometheus.Counter
	InsufficientCredits prometheus.Counter
	PagesProcessed      prometheus.Counter

	// Backend metrics
	BackendDuration *prometheus.HistogramVec
	BackendErrors   *prometheus.CounterVec
	BackendRetries  prometheus.Counter

	// Webhook metrics
	WebhookEvents *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a new metrics collector on the default registry.
func New() *Collector {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates a new metrics collector with a custom registry.
// Useful for testing to avoid global state.
func NewWithRegistry(reg prometheus.Registerer) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "requests_total",
				Help:      "Total number of metered requests processed",
			},
			[]string{"endpoint", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "doclingapi",
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"endpoint"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "doclingapi",
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "auth_failures_total",
				Help:      "Total number of authentication failures",
			},
			[]string{"reason"},
		),
		RateLimitHits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "rate_limit_hits_total",
				Help:      "Total number of rate limited requests",
			},
			[]string{"scope"},
		),
		CreditsDeducted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "credits_deducted_total",
				Help:      "Total credits deducted from accounts",
			},
		),
		CreditsGranted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "credits_granted_total",
				Help:      "Total credits granted via payments",
			},
		),
		InsufficientCredits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "insufficient_credits_total",
				Help:      "Total requests rejected for insufficient credits",
			},
		),
		PagesProcessed: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "pages_processed_total",
				Help:      "Total pages converted and billed",
			},
		),
		BackendDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "doclingapi",
				Name:      "backend_duration_seconds",
				Help:      "Conversion backend request duration in seconds",
				Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"status"},
		),
		BackendErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "backend_errors_total",
				Help:      "Total number of conversion backend errors",
			},
			[]string{"type"},
		),
		BackendRetries: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "backend_retries_total",
				Help:      "Total number of conversion backend retries",
			},
		),
		WebhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "webhook_events_total",
				Help:      "Payment webhook events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "config_reloads_total",
				Help:      "Total number of successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: "doclingapi",
				Name:      "config_reload_errors_total",
				Help:      "Total number of config reload errors",
			},
		),
	}
}
