package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/praisedesk/settlement/internal/config"
	"github.com/praisedesk/settlement/internal/pricing"
)

const testAdminSecret = "test-admin-secret"

func init() {
	gin.SetMode(gin.TestMode)
}

// testConfig returns a minimal in-memory config for testing
func testConfig() *config.Config {
	return &config.Config{
		Port:                 "0",
		Env:                  "development",
		LogLevel:             "error",
		LogFormat:            "json",
		AdminSecret:          testAdminSecret,
		RateLimitRPM:         6000,
		LockTimeout:          time.Second,
		BuyerCommissionRatio: decimal.RequireFromString("0.5"),
		EscalationAfter:      time.Hour,
		EscalationInterval:   time.Minute,
		ReconcileInterval:    time.Hour,
		PriceTable:           pricing.DefaultPriceTable(),
	}
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := New(testConfig(), WithDrainDelay(0))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	t.Cleanup(func() { s.rateLimiter.Stop() })
	return s
}

type apiCall struct {
	method string
	path   string
	body   string
	apiKey string
	admin  bool
}

func (s *Server) do(t *testing.T, c apiCall) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(c.method, c.path, bytes.NewBufferString(c.body))
	if c.body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if c.admin {
		req.Header.Set("X-Admin-Secret", testAdminSecret)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var resp map[string]any
	if strings.HasPrefix(w.Header().Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			t.Fatalf("Failed to parse response %q: %v", w.Body.String(), err)
		}
	}
	return w, resp
}

func (s *Server) mustDo(t *testing.T, want int, c apiCall) map[string]any {
	t.Helper()
	w, resp := s.do(t, c)
	if w.Code != want {
		t.Fatalf("%s %s: expected %d, got %d: %s", c.method, c.path, want, w.Code, w.Body.String())
	}
	return resp
}

func (s *Server) issueKey(t *testing.T, accountID, role string) string {
	t.Helper()
	resp := s.mustDo(t, http.StatusCreated, apiCall{
		method: http.MethodPost,
		path:   "/v1/admin/keys",
		body:   `{"accountId":"` + accountID + `","role":"` + role + `"}`,
		admin:  true,
	})
	key, _ := resp["apiKey"].(string)
	if !strings.HasPrefix(key, "sk_") {
		t.Fatalf("Expected sk_ key, got %v", resp["apiKey"])
	}
	return key
}

func field(t *testing.T, resp map[string]any, obj, name string) any {
	t.Helper()
	m, ok := resp[obj].(map[string]any)
	if !ok {
		t.Fatalf("Response has no %q object: %v", obj, resp)
	}
	return m[name]
}

// ---------------------------------------------------------------------------
// Health endpoint tests
// ---------------------------------------------------------------------------

func TestHealthEndpoint_DegradedBeforeStart(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, apiCall{method: http.MethodGet, path: "/health"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503, got %d", w.Code)
	}
	if resp["status"] != "degraded" {
		t.Errorf("Expected status 'degraded', got %v", resp["status"])
	}
	checks, _ := resp["checks"].(map[string]any)
	if checks["escalation_timer"] != "unhealthy" {
		t.Errorf("Expected escalation_timer unhealthy, got %v", checks["escalation_timer"])
	}
	if _, ok := checks["database"]; ok {
		t.Error("In-memory server should not register a database check")
	}
}

func TestHealthEndpoint_HealthyAfterStart(t *testing.T) {
	s := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startBackground(ctx)

	deadline := time.Now().Add(2 * time.Second)
	for !(s.taskTimer.Running() && s.reconTimer.Running()) && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	w, resp := s.do(t, apiCall{method: http.MethodGet, path: "/health"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "healthy" || resp["version"] != Version {
		t.Errorf("Unexpected health body: %v", resp)
	}
}

func TestLivenessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, apiCall{method: http.MethodGet, path: "/health/live"})
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200, got %d", w.Code)
	}
	if resp["status"] != "alive" {
		t.Errorf("Expected status 'alive', got %v", resp["status"])
	}
}

func TestReadinessEndpoint(t *testing.T) {
	s := newTestServer(t)

	w, resp := s.do(t, apiCall{method: http.MethodGet, path: "/health/ready"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 before Run, got %d", w.Code)
	}
	if resp["status"] != "not_ready" {
		t.Errorf("Expected status 'not_ready', got %v", resp["status"])
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s.startBackground(ctx)
	s.ready.Store(true)

	deadline := time.Now().Add(2 * time.Second)
	for {
		w, resp = s.do(t, apiCall{method: http.MethodGet, path: "/health/ready"})
		if w.Code == http.StatusOK || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200 once started, got %d: %s", w.Code, w.Body.String())
	}
	if resp["status"] != "ready" {
		t.Errorf("Expected status 'ready', got %v", resp["status"])
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := newTestServer(t)
	s.do(t, apiCall{method: http.MethodGet, path: "/v1/pricing/table"})

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "settlement_http_requests_total") {
		t.Error("Expected settlement_http_requests_total in metrics output")
	}
}

// ---------------------------------------------------------------------------
// Middleware tests
// ---------------------------------------------------------------------------

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t)

	w, _ := s.do(t, apiCall{method: http.MethodGet, path: "/health/live"})
	for header, want := range map[string]string{
		"X-Content-Type-Options": "nosniff",
		"X-Frame-Options":        "DENY",
		"Cache-Control":          "no-store",
	} {
		if got := w.Header().Get(header); got != want {
			t.Errorf("%s = %q, want %q", header, got, want)
		}
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("Expected X-Request-ID header")
	}
}

func TestRequestIDPropagated(t *testing.T) {
	s := newTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-123")
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	if got := w.Header().Get("X-Request-ID"); got != "req-123" {
		t.Errorf("Expected request ID to be echoed, got %q", got)
	}
}

func TestInvalidIDParam(t *testing.T) {
	s := newTestServer(t)
	key := s.issueKey(t, "m1", "merchant")

	w, resp := s.do(t, apiCall{method: http.MethodGet, path: "/v1/review-tasks/bad%20id", apiKey: key})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d", w.Code)
	}
	if resp["error"] != "invalid_id" {
		t.Errorf("Expected invalid_id, got %v", resp["error"])
	}
}

func TestNotFoundRoute(t *testing.T) {
	s := newTestServer(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/nonexistent", nil)
	s.router.ServeHTTP(w, req)

	if w.Code != http.StatusNotFound {
		t.Errorf("Expected 404, got %d", w.Code)
	}
}

// ---------------------------------------------------------------------------
// Route access tests
// ---------------------------------------------------------------------------

func TestPublicRoutes(t *testing.T) {
	s := newTestServer(t)

	for _, path := range []string{"/v1/platform", "/v1/auth/info", "/v1/pricing/table"} {
		w, _ := s.do(t, apiCall{method: http.MethodGet, path: path})
		if w.Code != http.StatusOK {
			t.Errorf("GET %s: expected 200, got %d", path, w.Code)
		}
	}

	resp := s.mustDo(t, http.StatusOK, apiCall{
		method: http.MethodPost,
		path:   "/v1/pricing/quote",
		body:   `{"orderCount":1,"orders":[{"id":"o1","praise":"none"}],"goods":[{"price":"10","quantity":1}]}`,
	})
	if resp["plan"] == nil {
		t.Errorf("Expected a fee plan, got %v", resp)
	}
}

func TestProtectedRoutesRequireAuth(t *testing.T) {
	s := newTestServer(t)

	for _, c := range []apiCall{
		{method: http.MethodGet, path: "/v1/review-tasks"},
		{method: http.MethodGet, path: "/v1/accounts/m1"},
		{method: http.MethodGet, path: "/v1/auth/me"},
		{method: http.MethodGet, path: "/v1/review-tasks", apiKey: "sk_bogus"},
	} {
		w, _ := s.do(t, c)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s (key %q): expected 401, got %d", c.method, c.path, c.apiKey, w.Code)
		}
	}
}

func TestAdminRoutesRequireAdmin(t *testing.T) {
	s := newTestServer(t)
	merchantKey := s.issueKey(t, "m1", "merchant")

	for _, c := range []apiCall{
		{method: http.MethodPost, path: "/v1/admin/accounts", body: `{"id":"x"}`},
		{method: http.MethodPost, path: "/v1/admin/accounts", body: `{"id":"x"}`, apiKey: merchantKey},
		{method: http.MethodGet, path: "/v1/admin/feed/stats", apiKey: merchantKey},
		{method: http.MethodGet, path: "/ws", apiKey: merchantKey},
	} {
		w, _ := s.do(t, c)
		if w.Code != http.StatusUnauthorized {
			t.Errorf("%s %s: expected 401, got %d", c.method, c.path, w.Code)
		}
	}

	adminKey := s.issueKey(t, "ops", "admin")
	resp := s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: "/v1/admin/feed/stats", apiKey: adminKey})
	if _, ok := resp["connectedClients"]; !ok {
		t.Errorf("Expected hub stats, got %v", resp)
	}
}

// ---------------------------------------------------------------------------
// End-to-end settlement
// ---------------------------------------------------------------------------

const createTaskBody = `{
	"buyerId": "b1",
	"pricing": {
		"orderCount": 2,
		"orders": [{"id": "o1", "praise": "text"}, {"id": "o2", "praise": "image"}],
		"goods": [{"price": "30", "quantity": 1}],
		"freeShipping": true
	}
}`

func TestReviewTaskLifecycle(t *testing.T) {
	s := newTestServer(t)

	for _, id := range []string{"m1", "b1"} {
		s.mustDo(t, http.StatusCreated, apiCall{method: http.MethodPost, path: "/v1/admin/accounts", body: `{"id":"` + id + `"}`, admin: true})
	}
	s.mustDo(t, http.StatusOK, apiCall{
		method: http.MethodPost,
		path:   "/v1/admin/accounts/m1/recharge",
		body:   `{"currency":"deposit","amount":"100"}`,
		admin:  true,
	})

	merchantKey := s.issueKey(t, "m1", "merchant")
	buyerKey := s.issueKey(t, "b1", "buyer")
	adminKey := s.issueKey(t, "ops", "admin")

	resp := s.mustDo(t, http.StatusCreated, apiCall{method: http.MethodPost, path: "/v1/review-tasks", body: createTaskBody, apiKey: merchantKey})
	if got := field(t, resp, "task", "money"); got != "16" {
		t.Fatalf("Expected money 16, got %v", got)
	}
	if got := field(t, resp, "task", "merchantId"); got != "m1" {
		t.Fatalf("Expected merchant m1 from the API key, got %v", got)
	}
	id := field(t, resp, "task", "id").(string)
	base := "/v1/review-tasks/" + id

	s.mustDo(t, http.StatusOK, apiCall{method: http.MethodPost, path: base + "/pay", body: `{"strategy":"cash_only"}`, apiKey: merchantKey})

	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: "/v1/accounts/m1", apiKey: merchantKey})
	if got := field(t, resp, "account", "deposit"); got != "84" {
		t.Errorf("Expected deposit 84 after pay, got %v", got)
	}
	if got := field(t, resp, "account", "frozenDeposit"); got != "16" {
		t.Errorf("Expected frozen 16 after pay, got %v", got)
	}

	// The buyer cannot read the merchant's balance.
	s.mustDo(t, http.StatusForbidden, apiCall{method: http.MethodGet, path: "/v1/accounts/m1", apiKey: buyerKey})

	s.mustDo(t, http.StatusOK, apiCall{method: http.MethodPost, path: base + "/examine", body: `{"approve":true}`, apiKey: adminKey})
	s.mustDo(t, http.StatusOK, apiCall{method: http.MethodPost, path: base + "/upload", body: `{"proof":["img://1"]}`, apiKey: buyerKey})

	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: base, apiKey: merchantKey})
	allowed, _ := resp["allowed"].([]any)
	canConfirm := false
	for _, ev := range allowed {
		canConfirm = canConfirm || ev == "confirm"
	}
	if !canConfirm {
		t.Errorf("Expected merchant to be allowed to confirm, got %v", resp["allowed"])
	}

	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodPost, path: base + "/confirm", apiKey: merchantKey})
	if got := field(t, resp, "task", "state"); got != "completed" {
		t.Errorf("Expected completed, got %v", got)
	}

	// A second confirm is not a legal transition.
	_, errResp := s.do(t, apiCall{method: http.MethodPost, path: base + "/confirm", apiKey: merchantKey})
	if errResp["error"] != "invalid_transition" {
		t.Errorf("Expected invalid_transition, got %v", errResp)
	}

	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: "/v1/accounts/b1", apiKey: buyerKey})
	if got := field(t, resp, "account", "deposit"); got != "8" {
		t.Errorf("Expected buyer deposit 8, got %v", got)
	}

	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: "/v1/accounts/m1/records", apiKey: merchantKey})
	if resp["count"].(float64) < 3 {
		t.Errorf("Expected recharge, pay and settle records, got %v", resp["count"])
	}

	// The settled books reconcile.
	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodPost, path: "/v1/admin/reconcile", admin: true})
	if got := field(t, resp, "report", "healthy"); got != true {
		t.Errorf("Expected a healthy reconciliation, got %v", resp["report"])
	}
	resp = s.mustDo(t, http.StatusOK, apiCall{method: http.MethodGet, path: "/v1/admin/accounts/m1/audit", admin: true})
	if resp["ok"] != true {
		t.Errorf("Expected a clean audit of m1, got %v", resp["audit"])
	}
}

func TestShutdownWithoutRun(t *testing.T) {
	s, err := New(testConfig(), WithDrainDelay(0))
	if err != nil {
		t.Fatalf("Failed to create server: %v", err)
	}
	if err := s.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	w, _ := s.do(t, apiCall{method: http.MethodGet, path: "/health/live"})
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected 503 after shutdown, got %d", w.Code)
	}
}
