// Package metrics provides Prometheus instrumentation for KrishiConnect.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "krishiconnect",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// ContractTransitionsTotal counts contract status changes.
	ContractTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "contract_transitions_total",
			Help:      "Total contract status transitions by source and target status.",
		},
		[]string{"from", "to"},
	)

	// ContractsProposedTotal counts new proposals by payment terms.
	ContractsProposedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "contracts_proposed_total",
			Help:      "Total contract proposals by payment terms.",
		},
		[]string{"terms"},
	)

	// MilestoneReleasesTotal counts milestone payouts. final is "true" when
	// the release drained the remaining escrow and completed the contract.
	MilestoneReleasesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "krishiconnect",
			Name:      "milestone_releases_total",
			Help:      "Total milestone payment releases.",
		},
		[]string{"final"},
	)

	// EscrowHeldTotal sums rupees moved into escrow on acceptance.
	EscrowHeldTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Name:      "escrow_held_rupees_total",
		Help:      "Total rupees debited into escrow.",
	})

	// EscrowReleasedTotal sums rupees released from escrow to farmers.
	EscrowReleasedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Name:      "escrow_released_rupees_total",
		Help:      "Total rupees released from escrow.",
	})

	// ActiveWebSocketClients tracks connected negotiation clients.
	ActiveWebSocketClients = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "krishiconnect",
			Name:      "active_websocket_clients",
			Help:      "Number of currently connected negotiation WebSocket clients.",
		},
	)

	// ActiveNegotiationRooms tracks contract rooms with at least one client.
	ActiveNegotiationRooms = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "krishiconnect",
			Name:      "active_negotiation_rooms",
			Help:      "Number of contract rooms with connected clients.",
		},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	// DBIdleConnections tracks idle database connections.
	DBIdleConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "db_idle_connections",
		Help: "Number of idle database connections.",
	})
	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	// DBWaitCount tracks the total number of connections waited for.
	DBWaitCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "db_wait_count_total",
		Help: "Total number of connections waited for.",
	})
	// DBWaitDuration tracks total time waited for connections.
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	// GoroutineCount tracks the current number of goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "krishiconnect", Name: "goroutines",
		Help: "Current number of goroutines.",
	})

	// --- Background jobs ---

	JobRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Name:      "job_runs_total",
		Help:      "Scheduled job runs by job name and result.",
	}, []string{"job", "result"})

	NotificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "krishiconnect",
		Name:      "notifications_total",
		Help:      "Notifications dispatched by result.",
	}, []string{"result"})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		ContractTransitionsTotal,
		ContractsProposedTotal,
		MilestoneReleasesTotal,
		EscrowHeldTotal,
		EscrowReleasedTotal,
		ActiveWebSocketClients,
		ActiveNegotiationRooms,
		DBOpenConnections,
		DBIdleConnections,
		DBInUseConnections,
		DBWaitCount,
		DBWaitDuration,
		GoroutineCount,
		JobRunsTotal,
		NotificationsTotal,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and runtime goroutine
// count into Prometheus gauges. Call in a goroutine; exits when ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBIdleConnections.Set(float64(stats.Idle))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitCount.Set(float64(stats.WaitCount))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // Uses route pattern, not actual path (avoids cardinality explosion)
		))

		c.Next()

		timer.ObserveDuration()
		HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			statusBucket(c.Writer.Status()),
		).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// statusBucket groups HTTP status codes into buckets (2xx, 3xx, 4xx, 5xx).
func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
