package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	dto "github.com/prometheus/client_model/go"

	"github.com/praisedesk/settlement/internal/metrics"
)

// fakeClock lets tests advance the limiter's time deterministically.
type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (f *fakeClock) now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.t
}

func (f *fakeClock) advance(d time.Duration) {
	f.mu.Lock()
	f.t = f.t.Add(d)
	f.mu.Unlock()
}

func newTestLimiter(t *testing.T, cfg Config) (*Limiter, *fakeClock) {
	t.Helper()
	l := New(cfg)
	t.Cleanup(l.Stop)
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	l.now = clock.now
	return l, clock
}

func TestLimiterAllow(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 5})

	key := "test-ip"
	for i := 0; i < 5; i++ {
		if !limiter.Allow(key) {
			t.Errorf("Request %d should be allowed (within burst)", i)
		}
	}
	if limiter.Allow(key) {
		t.Error("Request after burst should be denied")
	}

	// 1 second = 1 token at 60/min
	clock.advance(time.Second)
	if !limiter.Allow(key) {
		t.Error("Request after waiting should be allowed")
	}
	if limiter.Allow(key) {
		t.Error("Only one token should have accrued")
	}
}

func TestLimiterMultipleClients(t *testing.T) {
	limiter, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 3})

	for i := 0; i < 3; i++ {
		limiter.Allow("client-a")
	}
	if limiter.Allow("client-a") {
		t.Error("Client A should be rate limited")
	}
	if !limiter.Allow("client-b") {
		t.Error("Client B should not be rate limited")
	}
}

func TestLimiterBurstCap(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{RequestsPerMinute: 600, BurstSize: 2})

	limiter.Allow("k")
	clock.advance(time.Hour)

	allowed := 0
	for i := 0; i < 5; i++ {
		if limiter.Allow("k") {
			allowed++
		}
	}
	if allowed != 2 {
		t.Errorf("Expected idle credit to cap at burst size 2, got %d", allowed)
	}
}

func TestLimiterSweep(t *testing.T) {
	limiter, clock := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	limiter.Allow("old")
	clock.advance(5 * time.Minute)
	limiter.Allow("fresh")
	limiter.sweep(clock.now().Add(-2 * time.Minute))

	limiter.mu.Lock()
	_, oldKept := limiter.clients["old"]
	_, freshKept := limiter.clients["fresh"]
	limiter.mu.Unlock()
	if oldKept || !freshKept {
		t.Errorf("Expected only idle clients swept, old=%v fresh=%v", oldKept, freshKept)
	}
}

func TestConfigForRPM(t *testing.T) {
	cfg := ConfigForRPM(600)
	if cfg.RequestsPerMinute != 600 || cfg.BurstSize != 60 {
		t.Errorf("unexpected config: %+v", cfg)
	}
	if cfg := ConfigForRPM(5); cfg.BurstSize != 1 {
		t.Errorf("Expected minimum burst of 1, got %d", cfg.BurstSize)
	}
}

func TestStopIsIdempotent(t *testing.T) {
	l := New(DefaultConfig())
	l.Stop()
	l.Stop()
}

func TestMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	limiter, _ := newTestLimiter(t, Config{RequestsPerMinute: 60, BurstSize: 1})

	r := gin.New()
	r.Use(func(c *gin.Context) {
		if id := c.GetHeader("X-Account-ID"); id != "" {
			c.Set("authAccountID", id)
		}
		c.Next()
	})
	r.Use(limiter.Middleware())
	r.GET("/ping", func(c *gin.Context) { c.String(http.StatusOK, "pong") })

	call := func(account string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/ping", nil)
		req.RemoteAddr = "10.0.0.1:1234"
		if account != "" {
			req.Header.Set("X-Account-ID", account)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	before := counterValue(t)

	if w := call(""); w.Code != http.StatusOK {
		t.Fatalf("first request: %d", w.Code)
	}
	w := call("")
	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("Expected 429, got %d", w.Code)
	}
	if w.Header().Get("Retry-After") != "1" {
		t.Errorf("Expected Retry-After 1, got %q", w.Header().Get("Retry-After"))
	}

	// Authenticated accounts get their own bucket even from the same IP.
	if w := call("m1"); w.Code != http.StatusOK {
		t.Errorf("Expected account bucket to be separate, got %d", w.Code)
	}

	if got := counterValue(t) - before; got != 1 {
		t.Errorf("Expected rate-limited counter +1, got %v", got)
	}
}

func counterValue(t *testing.T) float64 {
	t.Helper()
	var m dto.Metric
	if err := metrics.RateLimitedTotal.Write(&m); err != nil {
		t.Fatal(err)
	}
	return m.GetCounter().GetValue()
}
