// Package metrics provides Prometheus instrumentation for the agent platform.
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

const namespace = "agentplatform"

var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, path pattern, and status code.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and path.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// RegistryOperationsTotal counts registry mutations by registry, operation and result.
	RegistryOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_operations_total",
			Help:      "Registry mutations by registry name, operation, and result.",
		},
		[]string{"registry", "op", "result"},
	)

	// ImportItemsTotal counts declarative import outcomes per registry.
	ImportItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "import_items_total",
			Help:      "YAML import items by registry and outcome (imported, updated, skipped, error).",
		},
		[]string{"registry", "outcome"},
	)

	// TenantAccessDeniedTotal counts rejected tenant access checks by reason.
	TenantAccessDeniedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tenant_access_denied_total",
			Help:      "Tenant access denials by reason.",
		},
		[]string{"reason"},
	)

	// TenantsExpiredTotal counts tenants transitioned to expired.
	TenantsExpiredTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tenants_expired_total",
		Help:      "Tenants transitioned to expired, lazily or by sweep.",
	})

	// QuotaRejectionsTotal counts requests rejected by a quota check.
	QuotaRejectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quota_rejections_total",
			Help:      "Requests rejected because a tenant quota was reached.",
		},
		[]string{"quota"},
	)

	// AuthEventsTotal counts login/refresh/logout outcomes.
	AuthEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "auth_events_total",
			Help:      "Authentication events by kind and result.",
		},
		[]string{"event", "result"},
	)

	// SweepRunsTotal counts background sweep iterations by sweep name and result.
	SweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sweep_runs_total",
			Help:      "Background sweep iterations by sweep and result.",
		},
		[]string{"sweep", "result"},
	)

	// InstanceHeartbeatTimeoutsTotal counts agent instances failed by the heartbeat sweep.
	InstanceHeartbeatTimeoutsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "instance_heartbeat_timeouts_total",
		Help:      "Agent instances moved to error after a missed heartbeat.",
	})

	// DataSourceAvailability reports 1 for available sources and 0 otherwise.
	DataSourceAvailability = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "datasource_available",
			Help:      "Data source availability from the last availability check (1 available, 0 not).",
		},
		[]string{"source"},
	)

	// BreakerTransitionsTotal counts circuit breaker state changes.
	BreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "circuitbreaker",
			Name:      "state_transitions_total",
			Help:      "Circuit breaker state transitions by key, from-state, and to-state.",
		},
		[]string{"key", "from_state", "to_state"},
	)

	// DataSourceFetchesTotal counts adapter fetch attempts by source and result.
	DataSourceFetchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "datasource_fetches_total",
			Help:      "Data source fetch attempts by source and result.",
		},
		[]string{"source", "result"},
	)

	// UsageRecordedTotal counts billing usage facts by type.
	UsageRecordedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "usage_recorded_total",
			Help:      "Usage records appended by usage type.",
		},
		[]string{"usage_type"},
	)

	// ActiveWebSocketClients tracks connected realtime clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_websocket_clients",
		Help:      "Number of connected WebSocket clients.",
	})

	// EventsPublishedTotal counts domain events by subject and result.
	EventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events published by subject and result.",
		},
		[]string{"subject", "result"},
	)

	// DBOpenConnections tracks open database connections.
	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_open_connections",
		Help:      "Number of open database connections.",
	})

	// DBInUseConnections tracks in-use database connections.
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "db_in_use_connections",
		Help:      "Number of in-use database connections.",
	})

	// GoroutineCount tracks the number of running goroutines.
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "goroutines",
		Help:      "Number of running goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		RegistryOperationsTotal,
		ImportItemsTotal,
		TenantAccessDeniedTotal,
		TenantsExpiredTotal,
		QuotaRejectionsTotal,
		AuthEventsTotal,
		SweepRunsTotal,
		InstanceHeartbeatTimeoutsTotal,
		DataSourceAvailability,
		BreakerTransitionsTotal,
		DataSourceFetchesTotal,
		UsageRecordedTotal,
		ActiveWebSocketClients,
		EventsPublishedTotal,
		DBOpenConnections,
		DBInUseConnections,
		GoroutineCount,
	)
}

// StartDBStatsCollector periodically samples sql.DBStats and the goroutine
// count into gauges. Call in a goroutine; exits when ctx is done.
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
			DBInUseConnections.Set(float64(stats.InUse))
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		timer := prometheus.NewTimer(HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(), // route pattern keeps cardinality bounded
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
