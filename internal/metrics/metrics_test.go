package metrics

import (
	"database/sql"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"
)

func TestStatusBucket(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{
		{100, "1xx"},
		{200, "2xx"},
		{201, "2xx"},
		{301, "3xx"},
		{400, "4xx"},
		{404, "4xx"},
		{500, "5xx"},
		{503, "5xx"},
	}

	for _, tt := range tests {
		if got := statusBucket(tt.code); got != tt.want {
			t.Errorf("statusBucket(%d) = %s, want %s", tt.code, got, tt.want)
		}
	}
}

func TestMetricsEndpoint(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/metrics", Handler())

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	// Gauges always appear; counters only after first observation.
	body := w.Body.String()
	for _, name := range []string{
		"settlement_active_websocket_clients",
		"settlement_goroutines",
	} {
		if !strings.Contains(body, name) {
			t.Errorf("Expected metrics output to contain %s", name)
		}
	}

	RateLimitedTotal.Inc()

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	if !strings.Contains(w.Body.String(), "settlement_rate_limited_requests_total") {
		t.Error("Expected settlement_rate_limited_requests_total after incrementing")
	}
}

func TestMiddleware_RecordsMetrics(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())
	r.GET("/test/:id", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	before := counterValue(t, "GET", "/test/:id", "2xx")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/test/42", nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}

	if got := counterValue(t, "GET", "/test/:id", "2xx"); got != before+1 {
		t.Errorf("request counter = %f, want %f", got, before+1)
	}
}

func TestMiddleware_UnmatchedRoute(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware())

	before := counterValue(t, "GET", "unmatched", "4xx")

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/nowhere", nil))

	if got := counterValue(t, "GET", "unmatched", "4xx"); got != before+1 {
		t.Errorf("unmatched counter = %f, want %f", got, before+1)
	}
}

func TestSampleDBStats(t *testing.T) {
	sampleDBStats(sql.DBStats{OpenConnections: 4, Idle: 1, InUse: 3, WaitCount: 7, WaitDuration: 2 * time.Second})

	m := &dto.Metric{}
	if err := DBInUseConnections.Write(m); err != nil {
		t.Fatal(err)
	}
	if m.Gauge.GetValue() != 3 {
		t.Errorf("in-use gauge = %f, want 3", m.Gauge.GetValue())
	}
	m = &dto.Metric{}
	if err := DBWaitDuration.Write(m); err != nil {
		t.Fatal(err)
	}
	if m.Gauge.GetValue() != 2 {
		t.Errorf("wait duration gauge = %f, want 2", m.Gauge.GetValue())
	}
}

func counterValue(t *testing.T, labels ...string) float64 {
	t.Helper()
	c, err := HTTPRequestsTotal.GetMetricWithLabelValues(labels...)
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues failed: %v", err)
	}
	m := &dto.Metric{}
	_ = c.Write(m)
	return m.Counter.GetValue()
}
