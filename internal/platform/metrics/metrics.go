// Package metrics generalizes the teacher's package-level Prometheus
// vectors into a constructor-injected Registry, so tests can spin up an
// isolated prometheus.Registry instead of colliding on the default one.
package metrics

import (
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every collector shared across components. One instance is
// built at startup and threaded through the Registry (see internal/app).
type Metrics struct {
	HTTPDuration *prometheus.HistogramVec
	HTTPRequests *prometheus.CounterVec

	SSEConnections  prometheus.Gauge
	SSEEventsSent   *prometheus.CounterVec
	WSConnections   prometheus.Gauge
	WSMessagesTotal *prometheus.CounterVec

	RateLimitBlocked   *prometheus.CounterVec
	EventBusPublished  *prometheus.CounterVec
	EventBusFallback   prometheus.Counter
	NotificationsSent  *prometheus.CounterVec
	NotificationsFailed *prometheus.CounterVec

	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec
}

// New registers every collector against reg and returns the bundle. Pass
// prometheus.NewRegistry() in tests to avoid the global default registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "chatcore_http_request_duration_seconds",
			Help: "HTTP request latencies in seconds",
		}, []string{"method", "path", "status"}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		SSEConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatcore_sse_connections",
			Help: "Current number of open SSE streams",
		}),
		SSEEventsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_sse_events_sent_total",
			Help: "Total SSE events flushed to clients",
		}, []string{"surface"}),
		WSConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "chatcore_ws_connections",
			Help: "Current number of open websocket connections",
		}),
		WSMessagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_ws_messages_total",
			Help: "Total websocket messages processed",
		}, []string{"direction", "surface"}),
		RateLimitBlocked: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_rate_limit_blocked_total",
			Help: "Total requests rejected by the rate limiter",
		}, []string{"surface"}),
		EventBusPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_eventbus_published_total",
			Help: "Total events published to the bus",
		}, []string{"channel"}),
		EventBusFallback: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "chatcore_eventbus_redis_fallback_total",
			Help: "Total times the event bus fell back from Redis to the in-process path",
		}),
		NotificationsSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_notifications_sent_total",
			Help: "Total push notifications dispatched",
		}, []string{"platform"}),
		NotificationsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_notifications_failed_total",
			Help: "Total push notification dispatch failures",
		}, []string{"platform"}),
		CacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_cache_hits_total",
			Help: "Cache hits by key prefix",
		}, []string{"prefix"}),
		CacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "chatcore_cache_misses_total",
			Help: "Cache misses by key prefix",
		}, []string{"prefix"}),
	}

	reg.MustRegister(
		m.HTTPDuration, m.HTTPRequests,
		m.SSEConnections, m.SSEEventsSent,
		m.WSConnections, m.WSMessagesTotal,
		m.RateLimitBlocked,
		m.EventBusPublished, m.EventBusFallback,
		m.NotificationsSent, m.NotificationsFailed,
		m.CacheHits, m.CacheMisses,
	)
	return m
}

// GinMiddleware records HTTP latency and request counts, the same
// observation the fleet's gin services have always recorded.
func (m *Metrics) GinMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start)
		status := c.Writer.Status()

		m.HTTPDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			fmt.Sprintf("%d", status),
		).Observe(duration.Seconds())

		m.HTTPRequests.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			fmt.Sprintf("%d", status),
		).Inc()
	}
}
