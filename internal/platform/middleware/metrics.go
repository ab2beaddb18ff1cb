package middleware

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/clinops/clinops/internal/platform/apperr"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinops_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "clinops_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	httpRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "clinops_http_requests_in_flight",
			Help: "Requests currently being served",
		},
	)

	clinicalAccessTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "clinops_clinical_access_total",
			Help: "Accesses to clinical records and visits by action and outcome",
		},
		[]string{"resource", "action", "status"},
	)
)

// AuditMetrics is an AuditRecorder that counts clinical accesses.
func AuditMetrics() AuditRecorder {
	return AuditRecorderFunc(func(entry AuditEntry) error {
		clinicalAccessTotal.WithLabelValues(entry.Resource, entry.Action, strconv.Itoa(entry.StatusCode)).Inc()
		return nil
	})
}

// Metrics records request counts and latency. The route label is the echo
// route pattern so path parameters do not explode cardinality.
func Metrics(skipper echomw.Skipper) echo.MiddlewareFunc {
	if skipper == nil {
		skipper = echomw.DefaultSkipper
	}
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if skipper(c) {
				return next(c)
			}
			httpRequestsInFlight.Inc()
			defer httpRequestsInFlight.Dec()

			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				status = apperr.StatusOf(err)
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			httpRequestsTotal.WithLabelValues(c.Request().Method, route, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(c.Request().Method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
