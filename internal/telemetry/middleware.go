package telemetry

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTP metrics
	requestDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)

	requestCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_request_count_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	activeRequestsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_request_active",
			Help: "Number of active HTTP requests",
		},
	)

	// Training metrics
	trainingRunCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "training_runs_total",
			Help: "Total number of training runs by terminal status",
		},
		[]string{"status"},
	)

	trainingRunDurationHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "training_run_duration_seconds",
			Help:    "Wall-clock duration of training runs in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"status"},
	)

	treesBuiltCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "training_trees_built_total",
			Help: "Total number of decision trees grown across all runs",
		},
	)

	runningSessionsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "training_sessions_running",
			Help: "Number of sessions with a live training run",
		},
	)

	stallsNormalizedCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "training_stalls_normalized_total",
			Help: "Total number of stalled sessions reset by the stall guard",
		},
	)

	predictionRowsCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "prediction_rows_total",
			Help: "Total number of rows scored through the predict endpoint",
		},
	)

	errorCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "error_total",
			Help: "Total number of errors by type and component",
		},
		[]string{"type", "component"},
	)
)

// MetricsHandler returns an http.Handler that serves the metrics endpoint
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// MetricsMiddleware wraps an http.Handler and records metrics about the request
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w}

		activeRequestsGauge.Inc()
		defer activeRequestsGauge.Dec()

		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		labels := prometheus.Labels{
			"method": r.Method,
			"path":   r.URL.Path,
			"status": fmt.Sprintf("%d", sw.status),
		}

		requestDurationHistogram.With(labels).Observe(duration)
		requestCounter.With(labels).Inc()
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Write(b []byte) (int, error) {
	if w.status == 0 {
		w.status = http.StatusOK
	}
	return w.ResponseWriter.Write(b)
}

// Hijack lets websocket upgrades reach the underlying connection.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return hj.Hijack()
}

// RecordTrainingRun records one finished training run.
func RecordTrainingRun(status string, duration time.Duration, treesBuilt int) {
	trainingRunCounter.WithLabelValues(status).Inc()
	if duration > 0 {
		trainingRunDurationHistogram.WithLabelValues(status).Observe(duration.Seconds())
	}
	if treesBuilt > 0 {
		treesBuiltCounter.Add(float64(treesBuilt))
	}
}

// UpdateRunningSessions updates the live training run count.
func UpdateRunningSessions(count float64) {
	runningSessionsGauge.Set(count)
}

// RecordStallNormalized counts one stalled session reset to idle.
func RecordStallNormalized() {
	stallsNormalizedCounter.Inc()
}

// RecordPredictions counts rows scored through the predict surface.
func RecordPredictions(rows int) {
	predictionRowsCounter.Add(float64(rows))
}

// RecordError records an error occurrence by type and component
func RecordError(errorType string, component string) {
	errorCounter.WithLabelValues(errorType, component).Inc()
}
