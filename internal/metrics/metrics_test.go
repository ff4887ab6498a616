package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordVerification(t *testing.T) {
	before := testutil.ToFloat64(verifiedOperationsTotal.WithLabelValues("verified_get", ResultRejected))

	RecordVerification("verified_get", ResultRejected, time.Now())

	after := testutil.ToFloat64(verifiedOperationsTotal.WithLabelValues("verified_get", ResultRejected))
	if after-before != 1 {
		t.Errorf("counter delta = %v, want 1", after-before)
	}
}

func TestSetCheckpoint(t *testing.T) {
	SetCheckpoint("metricsdb", 42)

	if got := testutil.ToFloat64(checkpointTxID.WithLabelValues("metricsdb")); got != 42 {
		t.Errorf("checkpoint = %v, want 42", got)
	}
}

func TestMiddlewareAndHandler(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(PrometheusMiddleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })
	r.GET("/metrics", MetricsHandler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("ping status = %d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("metrics status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `ledgerclient_http_requests_total{method="GET",path="/ping",status="200"}`) {
		t.Error("expected request counter for /ping in metrics output")
	}
}
