package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "courier_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	sendsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_sends_total",
			Help: "Send attempts by channel and outcome reason",
		},
		[]string{"channel", "reason"},
	)

	statusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_status_transitions_total",
			Help: "Delivery log status transitions",
		},
		[]string{"status"},
	)

	webhookUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "courier_webhook_updates_total",
			Help: "Provider webhook updates by provider and result",
		},
		[]string{"provider", "result"},
	)

	retriesClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_retries_claimed_total",
			Help: "Failed notifications claimed for retry by the sweeper",
		},
	)

	queueMessagesInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_queue_messages_in_flight",
			Help: "Current messages being processed from the send queue",
		},
	)

	idempotencyHits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_idempotency_hits_total",
			Help: "Requests served from the idempotency cache",
		},
	)

	rateLimitRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "courier_rate_limit_rejections_total",
			Help: "Requests rejected by the rate limiter",
		},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "courier_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordSend records a send attempt outcome
func RecordSend(channel, reason string) {
	sendsTotal.WithLabelValues(channel, reason).Inc()
}

// RecordStatusTransition records a delivery log status change
func RecordStatusTransition(status string) {
	statusTransitions.WithLabelValues(status).Inc()
}

// RecordWebhookUpdate records an inbound provider status update
func RecordWebhookUpdate(provider, result string) {
	webhookUpdates.WithLabelValues(provider, result).Inc()
}

// RecordRetriesClaimed records notifications picked up by the retry sweeper
func RecordRetriesClaimed(count int) {
	retriesClaimed.Add(float64(count))
}

// SetQueueMessagesInFlight sets the current in-flight message count
func SetQueueMessagesInFlight(count int) {
	queueMessagesInFlight.Set(float64(count))
}

// RecordIdempotencyHit records a cache hit for idempotency
func RecordIdempotencyHit() {
	idempotencyHits.Inc()
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection() {
	rateLimitRejections.Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, r.URL.Path, wrapped.status, time.Since(start))
	})
}
