package admin

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/pricing"
	"github.com/praisedesk/settlement/internal/reconciliation"
	"github.com/praisedesk/settlement/internal/reviewtask"
)

func setupTestRouter(t *testing.T, withReconciler bool) (*gin.Engine, *ledger.Ledger) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ctx := context.Background()

	l := ledger.New(ledger.NewMemoryStore(), time.Second)
	for _, id := range []string{"m2", "m1"} {
		_, err := l.OpenAccount(ctx, id)
		require.NoError(t, err)
	}
	_, err := l.Transfer(ctx, "m1", ledger.Deposit, decimal.RequireFromString("40"), ledger.ReasonRecharge, "")
	require.NoError(t, err)

	calc, err := pricing.NewCalculator(pricing.DefaultPriceTable())
	require.NoError(t, err)
	tasks := reviewtask.NewService(reviewtask.NewMemoryStore(), l, calc)

	h := NewHandler(l, tasks)
	if withReconciler {
		h.WithReconciler(reconciliation.NewRunner(l, tasks, slog.Default()))
	}

	r := gin.New()
	h.RegisterRoutes(r.Group("/v1"))
	return r, l
}

func do(r *gin.Engine, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestListAccounts(t *testing.T) {
	r, _ := setupTestRouter(t, true)

	w := do(r, http.MethodGet, "/v1/admin/accounts?limit=1")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	body := decode(t, w)
	assert.EqualValues(t, 1, body["count"])
	first := body["accounts"].([]any)[0].(map[string]any)
	assert.Equal(t, "m1", first["id"])
}

func TestAuditAccount(t *testing.T) {
	r, _ := setupTestRouter(t, true)

	w := do(r, http.MethodGet, "/v1/admin/accounts/m1/audit")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	body := decode(t, w)
	assert.Equal(t, true, body["ok"])
	audit := body["audit"].(map[string]any)
	assert.EqualValues(t, 1, audit["records"])
	assert.Equal(t, "40", audit["deposit"])

	w = do(r, http.MethodGet, "/v1/admin/accounts/ghost/audit")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "not_found", decode(t, w)["error"])
}

func TestMerchantExposure(t *testing.T) {
	r, _ := setupTestRouter(t, true)

	w := do(r, http.MethodGet, "/v1/admin/merchants/m1/exposure")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	exp := decode(t, w)["exposure"].(map[string]any)
	assert.Equal(t, "m1", exp["merchantId"])
	assert.EqualValues(t, 0, exp["openTasks"])
}

func TestReconcile_RunThenFetch(t *testing.T) {
	r, _ := setupTestRouter(t, true)

	w := do(r, http.MethodGet, "/v1/admin/reconcile")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/v1/admin/reconcile")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	report := decode(t, w)["report"].(map[string]any)
	assert.Equal(t, true, report["healthy"])
	assert.EqualValues(t, 2, report["accounts"])

	w = do(r, http.MethodGet, "/v1/admin/reconcile")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, decode(t, w)["report"].(map[string]any)["accounts"])
}

func TestReconcile_NotConfigured(t *testing.T) {
	r, _ := setupTestRouter(t, false)

	for _, method := range []string{http.MethodGet, http.MethodPost} {
		w := do(r, method, "/v1/admin/reconcile")
		assert.Equal(t, http.StatusServiceUnavailable, w.Code, method)
	}
}

type failingReconciler struct{}

func (failingReconciler) RunAll(context.Context) (*reconciliation.Report, error) {
	return nil, errors.New("store unavailable")
}

func (failingReconciler) Last() *reconciliation.Report { return nil }

func TestReconcile_Failure(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(nil, nil).WithReconciler(failingReconciler{}).RegisterRoutes(r.Group("/v1"))

	w := do(r, http.MethodPost, "/v1/admin/reconcile")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "reconciliation_failed", decode(t, w)["error"])
}
