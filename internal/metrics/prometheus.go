package metrics

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Publish metrics
var (
	PublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_publish_total",
			Help: "Total number of publish requests by outcome",
		},
		[]string{"outcome"}, // published, replayed, invalid, in_progress, failed
	)

	PublishDeliveriesEnqueued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "newsletter_publish_deliveries_enqueued_total",
			Help: "Total number of delivery tasks written by publish",
		},
	)
)

// Delivery metrics
var (
	DeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "newsletter_deliveries_total",
			Help: "Total number of delivery attempts by outcome",
		},
		[]string{"outcome"}, // delivered, invalid_recipient, issue_missing, rejected, retry
	)

	DeliveryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "newsletter_delivery_duration_seconds",
			Help:    "Duration of a single delivery attempt including the send",
			Buckets: prometheus.DefBuckets,
		},
	)

	DeliveryQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "newsletter_delivery_queue_depth",
			Help: "Number of delivery tasks waiting in issue_delivery_queue",
		},
	)
)

// ProviderHealthy is 1 while the transport passes its health checks.
var ProviderHealthy = promauto.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "newsletter_provider_healthy",
		Help: "Whether the email transport passed its recent health checks",
	},
	[]string{"provider"},
)

// API metrics
var (
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "api_requests_total",
			Help: "Total number of API requests",
		},
		[]string{"method", "path", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "api_request_duration_seconds",
			Help:    "Duration of API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	APIAuthFailuresTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "api_auth_failures_total",
			Help: "Total number of API authentication failures",
		},
	)
)

// Database metrics
var (
	DBConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Number of acquired database connections",
		},
	)

	DBConnectionsIdle = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_idle",
			Help: "Number of idle database connections",
		},
	)
)

// ObservePool copies pgxpool statistics into the connection gauges.
func ObservePool(stat *pgxpool.Stat) {
	DBConnectionsActive.Set(float64(stat.AcquiredConns()))
	DBConnectionsIdle.Set(float64(stat.IdleConns()))
}

// ProviderFailoversTotal counts sends carried by a fallback transport.
var ProviderFailoversTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "newsletter_provider_failovers_total",
		Help: "Messages sent through a fallback transport after the preferred one failed",
	},
	[]string{"from", "to"},
)
