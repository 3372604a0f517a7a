package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/praisedesk/settlement/internal/logging"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupMiddlewareTest(t *testing.T, role string) (*Manager, string, *APIKey) {
	t.Helper()
	mgr := NewManager(NewMemoryStore())
	rawKey, key, err := mgr.GenerateKey(context.Background(), "acct_1", role, "test-key")
	require.NoError(t, err)
	return mgr, rawKey, key
}

func TestMiddleware_ValidKey_SetsPrincipal(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t, RoleMerchant)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "Bearer "+rawKey)

	Middleware(mgr)(c)

	assert.Equal(t, "acct_1", c.GetString(ContextKeyAccountID))
	assert.Equal(t, RoleMerchant, c.GetString(ContextKeyRole))
	assert.Equal(t, "acct_1", logging.Actor(c.Request.Context()))

	key, ok := GetAPIKey(c)
	require.True(t, ok)
	assert.Equal(t, "test-key", key.Name)
}

func TestMiddleware_ValidKeyViaXAPIKey(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t, RoleBuyer)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("X-API-Key", rawKey)

	Middleware(mgr)(c)

	assert.True(t, IsAuthenticated(c))
	assert.Equal(t, RoleBuyer, c.GetString(ContextKeyRole))
}

func TestMiddleware_InvalidKey_DoesNotAbort(t *testing.T) {
	mgr, _, _ := setupMiddlewareTest(t, RoleMerchant)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request, _ = http.NewRequest("GET", "/test", nil)
	c.Request.Header.Set("Authorization", "sk_invalidkey")

	Middleware(mgr)(c)

	assert.False(t, c.IsAborted())
	assert.False(t, IsAuthenticated(c))
	assert.Empty(t, c.GetString(ContextKeyAccountID))
}

func newRouter(mgr *Manager, guards ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(Middleware(mgr))
	handlers := append(guards, func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"account": c.GetString(ContextKeyAccountID),
			"role":    c.GetString(ContextKeyRole),
		})
	})
	r.GET("/guarded", handlers...)
	return r
}

func get(r *gin.Engine, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/guarded", nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestRequireAuth(t *testing.T) {
	mgr, rawKey, _ := setupMiddlewareTest(t, RoleMerchant)
	r := newRouter(mgr, RequireAuth())

	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"Authorization": rawKey}).Code)
}

func TestRequireRole(t *testing.T) {
	mgr, merchantKey, _ := setupMiddlewareTest(t, RoleMerchant)
	adminKey, _, err := mgr.GenerateKey(context.Background(), "ops", RoleAdmin, "")
	require.NoError(t, err)
	r := newRouter(mgr, RequireRole(RoleAdmin))

	assert.Equal(t, http.StatusUnauthorized, get(r, nil).Code)
	assert.Equal(t, http.StatusForbidden, get(r, map[string]string{"Authorization": merchantKey}).Code)
	assert.Equal(t, http.StatusOK, get(r, map[string]string{"Authorization": adminKey}).Code)
}

func TestRequireAdmin(t *testing.T) {
	mgr, merchantKey, _ := setupMiddlewareTest(t, RoleMerchant)
	adminKey, _, err := mgr.GenerateKey(context.Background(), "ops", RoleAdmin, "")
	require.NoError(t, err)

	r := newRouter(mgr, RequireAdmin("s3cret"))

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"nothing", nil, http.StatusUnauthorized},
		{"wrong secret", map[string]string{AdminSecretHeader: "guess"}, http.StatusUnauthorized},
		{"merchant key", map[string]string{"Authorization": merchantKey}, http.StatusUnauthorized},
		{"secret", map[string]string{AdminSecretHeader: "s3cret"}, http.StatusOK},
		{"admin key", map[string]string{"Authorization": adminKey}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, get(r, tt.headers).Code)
		})
	}

	w := get(r, map[string]string{AdminSecretHeader: "s3cret"})
	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, RoleAdmin, resp["role"])
}

func TestRequireAdmin_EmptySecretDisablesBootstrap(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	r := newRouter(mgr, RequireAdmin(""))

	assert.Equal(t, http.StatusUnauthorized, get(r, map[string]string{AdminSecretHeader: ""}).Code)
}

func TestHandler_IssueAndUseKey(t *testing.T) {
	mgr := NewManager(NewMemoryStore())
	h := NewHandler(mgr)

	r := gin.New()
	r.Use(Middleware(mgr))
	admin := r.Group("/v1", RequireAdmin("s3cret"))
	h.RegisterAdminRoutes(admin)
	protected := r.Group("/v1", RequireAuth())
	h.RegisterProtectedRoutes(protected)

	body := bytes.NewBufferString(`{"accountId":"m1","role":"merchant","name":"shop"}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/keys", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AdminSecretHeader, "s3cret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var issued struct {
		APIKey string `json:"apiKey"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &issued))

	req = httptest.NewRequest(http.MethodGet, "/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+issued.APIKey)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var me map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &me))
	assert.Equal(t, "m1", me["accountId"])
	assert.Equal(t, "merchant", me["role"])
	assert.NotContains(t, w.Body.String(), "hash")

	body = bytes.NewBufferString(`{"accountId":"m1","role":"root"}`)
	req = httptest.NewRequest(http.MethodPost, "/v1/admin/keys", body)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(AdminSecretHeader, "s3cret")
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
