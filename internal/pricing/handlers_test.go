package pricing

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	NewHandler(newCalc(t)).RegisterRoutes(r.Group("/v1"))
	return r
}

func postQuote(r *gin.Engine, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/v1/pricing/quote", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_Quote(t *testing.T) {
	r := setupTestRouter(t)

	w := postQuote(r, `{
		"orderCount": 2,
		"orders": [{"id": "a", "praise": "text"}, {"id": "b", "praise": "image"}],
		"goods": [{"price": "30", "quantity": 1}],
		"freeShipping": true
	}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Plan struct {
			CommissionTotal string `json:"commissionTotal"`
			DepositTotal    string `json:"depositTotal"`
			Orders          []struct {
				OrderID    string `json:"orderId"`
				Commission string `json:"commission"`
			} `json:"orders"`
		} `json:"plan"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "16", resp.Plan.CommissionTotal)
	assert.Equal(t, "60", resp.Plan.DepositTotal)
	require.Len(t, resp.Plan.Orders, 2)
	assert.Equal(t, "a", resp.Plan.Orders[0].OrderID)
}

func TestHandler_QuoteValidationError(t *testing.T) {
	r := setupTestRouter(t)

	w := postQuote(r, `{"orderCount": 0, "goods": []}`)
	require.Equal(t, http.StatusBadRequest, w.Code)

	var resp struct {
		Error   string       `json:"error"`
		Details []FieldError `json:"details"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "validation_error", resp.Error)
	assert.NotEmpty(t, resp.Details)
}

func TestHandler_QuoteMalformedBody(t *testing.T) {
	r := setupTestRouter(t)

	w := postQuote(r, `{"orderCount": "lots"`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestHandler_GetTable(t *testing.T) {
	r := setupTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/v1/pricing/table", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"baseFee":"5"`)
}
