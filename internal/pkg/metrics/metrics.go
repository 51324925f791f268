package metrics

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"
)

var (
	// HTTP metrics
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total HTTP requests processed",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "haultrack",
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
	}, []string{"method", "path"})

	httpResponseSize = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "haultrack",
		Subsystem: "http",
		Name:      "response_size_bytes",
		Help:      "HTTP response size in bytes",
		Buckets:   prometheus.ExponentialBuckets(100, 10, 6),
	}, []string{"method", "path"})

	// Trip engine metrics
	PositionsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "positions_ingested_total",
		Help:      "Total GPS positions accepted by the engine",
	}, []string{"source"}) // live | batch

	PositionsRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "positions_rejected_total",
		Help:      "Total GPS positions rejected by validation",
	}, []string{"source"})

	BatchesReconciled = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "batches_reconciled_total",
		Help:      "Total offline batches reconciled",
	})

	GapsDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "gaps_detected_total",
		Help:      "Total communication gaps flagged in trip histories",
	})

	CheckpointTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "checkpoint_transitions_total",
		Help:      "Total checkpoint arrivals and departures registered",
	}, []string{"transition", "checkpoint_type"})

	TripsCompleted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "completed_total",
		Help:      "Total trips that completed their full itinerary",
	})

	ActiveTrips = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "active",
		Help:      "Trips currently held by the engine",
	})

	FanoutErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "trips",
		Name:      "fanout_errors_total",
		Help:      "Total failed event or snapshot publish attempts",
	}, []string{"kind"}) // event | snapshot

	ActiveWebSockets = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haultrack",
		Subsystem: "ws",
		Name:      "active_connections",
		Help:      "Current number of active WebSocket connections",
	})

	CacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Total cache hits",
	}, []string{"operation"})

	CacheMisses = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "haultrack",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Total cache misses",
	}, []string{"operation"})

	// Database pool metrics
	DBPoolConnsOpen = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haultrack",
		Subsystem: "db",
		Name:      "pool_conns_open",
		Help:      "Total connections open in the database pool",
	})

	DBPoolConnsAcquired = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haultrack",
		Subsystem: "db",
		Name:      "pool_conns_acquired",
		Help:      "Connections currently acquired from the database pool",
	})

	DBPoolConnsIdle = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "haultrack",
		Subsystem: "db",
		Name:      "pool_conns_idle",
		Help:      "Idle connections in the database pool",
	})
)

// Middleware records request metrics.
func Middleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()

		err := c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Response().StatusCode())
		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpRequestDuration.WithLabelValues(method, path).Observe(duration)
		httpResponseSize.WithLabelValues(method, path).Observe(float64(len(c.Response().Body())))

		return err
	}
}

// Handler returns a Fiber handler serving the Prometheus /metrics endpoint.
func Handler() fiber.Handler {
	handler := promhttp.Handler()
	return func(c *fiber.Ctx) error {
		fasthttpadaptor.NewFastHTTPHandler(handler)(c.Context())
		return nil
	}
}

// UpdateDBPoolMetrics updates database pool gauges from pgx pool stats.
func UpdateDBPoolMetrics(stat interface{}) {
	type poolStat interface {
		AcquiredConns() int32
		IdleConns() int32
		TotalConns() int32
	}

	if s, ok := stat.(poolStat); ok {
		DBPoolConnsAcquired.Set(float64(s.AcquiredConns()))
		DBPoolConnsIdle.Set(float64(s.IdleConns()))
		DBPoolConnsOpen.Set(float64(s.TotalConns()))
	}
}
