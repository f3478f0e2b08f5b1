// Package metrics holds the Prometheus collectors for the workbench.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// upload queue
	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ismart_uploads_total",
			Help: "Upload attempts by terminal status",
		},
		[]string{"status"},
	)

	UploadsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ismart_uploads_active",
			Help: "Uploads currently in flight",
		},
	)

	UploadDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ismart_upload_duration_seconds",
			Help:    "Time from upload start to terminal state",
			Buckets: []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	UploadBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ismart_upload_bytes_total",
			Help: "Bytes sent to the backend by successful uploads",
		},
	)

	// remote backend
	BackendRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ismart_backend_requests_total",
			Help: "Requests made to the i-SMART backend",
		},
		[]string{"method", "route", "status"},
	)

	BackendRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ismart_backend_request_duration_seconds",
			Help:    "Backend request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// local API
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ismart_http_requests_total",
			Help: "Requests served by the local API",
		},
		[]string{"method", "path", "status"},
	)

	BusEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ismart_bus_events_total",
			Help: "Events published on the in-process bus",
		},
		[]string{"name"},
	)
)

func init() {
	prometheus.MustRegister(
		UploadsTotal,
		UploadsActive,
		UploadDuration,
		UploadBytes,
		BackendRequestsTotal,
		BackendRequestDuration,
		HTTPRequestsTotal,
		BusEventsTotal,
	)
}

// RecordBackendRequest records one backend call. Status 0 means a transport failure.
func RecordBackendRequest(method, route string, status int, duration time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	BackendRequestsTotal.WithLabelValues(method, route, label).Inc()
	BackendRequestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordUpload records a finished upload attempt.
func RecordUpload(status string, duration time.Duration, bytes int64) {
	UploadsTotal.WithLabelValues(status).Inc()
	UploadDuration.Observe(duration.Seconds())
	if status == "done" && bytes > 0 {
		UploadBytes.Add(float64(bytes))
	}
}

// Middleware counts local API requests by route template.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			err := next(c)
			status := c.Response().Status
			if err != nil {
				switch e := err.(type) {
				case *echo.HTTPError:
					status = e.Code
				case interface{ StatusCode() int }:
					status = e.StatusCode()
				}
			}
			path := c.Path()
			if path == "" {
				path = "unmatched"
			}
			HTTPRequestsTotal.WithLabelValues(c.Request().Method, path, strconv.Itoa(status)).Inc()
			return err
		}
	}
}

// Handler exposes the default registry.
func Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.Handler())
}
