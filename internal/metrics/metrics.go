// Package metrics exposes Prometheus metrics for verified ledger operations.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	verifiedOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerclient_verified_operations_total",
		Help: "Total verified operations by operation and result.",
	}, []string{"op", "result"})

	verifiedOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerclient_verified_operation_duration_seconds",
		Help:    "Verified operation duration in seconds, transport included.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	checkpointTxID = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ledgerclient_checkpoint_tx_id",
		Help: "Transaction id of the last verified checkpoint by database.",
	}, []string{"db"})

	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledgerclient_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledgerclient_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// Result labels.
const (
	ResultSuccess  = "success"
	ResultRejected = "rejected"
	ResultError    = "error"
)

// RecordVerification records the outcome of a verified operation started at
// start. result is one of the Result constants.
func RecordVerification(op, result string, start time.Time) {
	verifiedOperationsTotal.WithLabelValues(op, result).Inc()
	verifiedOperationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

// SetCheckpoint publishes the checkpoint of db.
func SetCheckpoint(db string, txID uint64) {
	checkpointTxID.WithLabelValues(db).Set(float64(txID))
}

// VerifiedOperations exposes the operations counter to tests.
func VerifiedOperations() *prometheus.CounterVec { return verifiedOperationsTotal }

// Checkpoints exposes the checkpoint gauge to tests.
func Checkpoints() *prometheus.GaugeVec { return checkpointTxID }

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		requestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}
