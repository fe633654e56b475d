package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Outbound calls to the marketplace backend.
	BackendRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_backend_requests_total",
			Help: "Total number of marketplace backend requests (by endpoint, method and status).",
		},
		[]string{"endpoint", "method", "status"},
	)

	BackendRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_backend_request_duration_seconds",
			Help:    "Duration of marketplace backend requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"endpoint", "method"},
	)

	// Cart mutations by operation and result.
	CartOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_cart_operations_total",
			Help: "Cart operations by op and result.",
		},
		[]string{"op", "result"}, // result = ok | rejected | unauthenticated | invalid
	)

	// Orders created / rejected.
	OrdersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_orders_total",
			Help: "Order creation attempts by result.",
		},
		[]string{"result"},
	)

	// Payment lifecycle steps by stage and outcome.
	PaymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_payments_total",
			Help: "Payment initiations and verifications by stage and outcome.",
		},
		[]string{"stage", "outcome"}, // stage = initiate | verify | simulate
	)

	StatusChangesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_status_changes_total",
			Help: "Operator status changes by target status and result.",
		},
		[]string{"status", "result"},
	)

	// Broker messages published by sink, subject and result.
	MessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_messages_published_total",
			Help: "Total number of lifecycle messages published.",
		},
		[]string{"sink", "subject", "result"},
	)

	MessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storefront_message_latency_seconds",
			Help:    "Time taken to publish lifecycle messages.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"sink", "subject"},
	)

	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	ActiveCarts = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_active_carts",
			Help: "Number of per-actor carts held in memory.",
		},
	)

	NotificationSubscribers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "storefront_notification_subscribers",
			Help: "Open notification websocket connections.",
		},
	)

	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storefront_errors_total",
			Help: "Count of errors by component.",
		},
		[]string{"component", "reason"},
	)
)

// ObserveDuration records the time since start on a histogram or summary vector.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// counters are not meant for duration tracking
	}
}

func IncBackendRequest(endpoint, method, status string) {
	BackendRequestsTotal.WithLabelValues(endpoint, method, status).Inc()
}

func IncCartOp(op, result string) {
	CartOperations.WithLabelValues(op, result).Inc()
}

func IncOrder(result string) {
	OrdersTotal.WithLabelValues(result).Inc()
}

func IncPayment(stage, outcome string) {
	PaymentsTotal.WithLabelValues(stage, outcome).Inc()
}

func IncStatusChange(status, result string) {
	StatusChangesTotal.WithLabelValues(status, result).Inc()
}

func IncMessage(sink, subject, result string) {
	MessagesPublished.WithLabelValues(sink, subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}
