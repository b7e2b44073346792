package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus metrics for the adherence engine and its HTTP surface
var (
	SnapshotFetches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_snapshot_fetches_total",
			Help: "Total number of prescription snapshot fetches by outcome",
		},
		[]string{"outcome"},
	)

	MarkTaken = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_mark_taken_total",
			Help: "Total number of mark-taken calls by result status",
		},
		[]string{"status"},
	)

	Probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "medtrack_connectivity_probes_total",
			Help: "Total number of connectivity probes, split into network calls, throttled answers and abandoned waits",
		},
		[]string{"result"},
	)

	UpstreamRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medtrack_upstream_request_duration_seconds",
			Help:    "Duration of calls to the upstream records API",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "medtrack_http_request_duration_seconds",
			Help:    "Duration of dashboard API requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

var registerOnce sync.Once

// Register registers all Prometheus metrics with the default registry. Safe
// to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(SnapshotFetches)
		prometheus.MustRegister(MarkTaken)
		prometheus.MustRegister(Probes)
		prometheus.MustRegister(UpstreamRequestDuration)
		prometheus.MustRegister(HTTPRequestDuration)
	})
}

// Middleware records dashboard request latency by route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			HTTPRequestDuration.
				WithLabelValues(c.Request().Method, c.Path(), strconv.Itoa(status)).
				Observe(time.Since(start).Seconds())
			return err
		}
	}
}
