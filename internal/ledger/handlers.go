package ledger

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides HTTP endpoints for account balances and history.
type Handler struct {
	ledger *Ledger
}

// NewHandler creates a new ledger handler.
func NewHandler(ledger *Ledger) *Handler {
	return &Handler{ledger: ledger}
}

// RegisterProtectedRoutes sets up routes for authenticated account holders.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/accounts/:id", h.GetAccount)
	r.GET("/accounts/:id/records", h.ListRecords)
}

// RegisterAdminRoutes sets up operator-only routes.
func (h *Handler) RegisterAdminRoutes(r *gin.RouterGroup) {
	r.POST("/admin/accounts", h.OpenAccount)
	r.POST("/admin/accounts/:id/recharge", h.Recharge)
}

// OpenAccountRequest is the body of POST /v1/admin/accounts.
type OpenAccountRequest struct {
	ID string `json:"id" binding:"required"`
}

// RechargeRequest is the body of POST /v1/admin/accounts/:id/recharge.
type RechargeRequest struct {
	Currency string `json:"currency" binding:"required"`
	Amount   string `json:"amount" binding:"required"`
}

// GetAccount handles GET /v1/accounts/:id
func (h *Handler) GetAccount(c *gin.Context) {
	id := c.Param("id")
	if !canView(c, id) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Cannot view another account",
		})
		return
	}

	acct, err := h.ledger.GetAccount(c.Request.Context(), id)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"account": acct})
}

// ListRecords handles GET /v1/accounts/:id/records
func (h *Handler) ListRecords(c *gin.Context) {
	id := c.Param("id")
	if !canView(c, id) {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "unauthorized",
			"message": "Cannot view another account",
		})
		return
	}

	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	records, err := h.ledger.History(c.Request.Context(), id, limit, offset)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"records": records,
		"count":   len(records),
	})
}

// OpenAccount handles POST /v1/admin/accounts
func (h *Handler) OpenAccount(c *gin.Context) {
	var req OpenAccountRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	acct, err := h.ledger.OpenAccount(c.Request.Context(), req.ID)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"account": acct})
}

// Recharge handles POST /v1/admin/accounts/:id/recharge
func (h *Handler) Recharge(c *gin.Context) {
	var req RechargeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	currency, err := ParseCurrency(req.Currency)
	if err != nil {
		WriteError(c, err)
		return
	}
	amount, err := ParseAmount(req.Amount)
	if err != nil {
		WriteError(c, err)
		return
	}

	rec, err := h.ledger.Transfer(c.Request.Context(), c.Param("id"), currency, amount, ReasonRecharge, "")
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"record": rec})
}

func canView(c *gin.Context, accountID string) bool {
	return c.GetString("authRole") == "admin" || c.GetString("authAccountID") == accountID
}

// WriteError maps ledger errors to HTTP responses. Unknown errors are
// reported as 500 without leaking details.
func WriteError(c *gin.Context, err error) {
	if status, code, ok := ErrorStatus(err); ok {
		c.JSON(status, gin.H{
			"error":   code,
			"message": err.Error(),
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": "Internal server error",
	})
}

// ErrorStatus returns the HTTP status and error code for a ledger error.
func ErrorStatus(err error) (int, string, bool) {
	switch {
	case errors.Is(err, ErrAccountNotFound):
		return http.StatusNotFound, "not_found", true
	case errors.Is(err, ErrAccountExists):
		return http.StatusConflict, "account_exists", true
	case errors.Is(err, ErrInsufficientFunds):
		return http.StatusConflict, "insufficient_funds", true
	case errors.Is(err, ErrConcurrentModification):
		return http.StatusConflict, "concurrent_modification", true
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCurrency), errors.Is(err, ErrInvalidPosting):
		return http.StatusBadRequest, "validation_error", true
	}
	return 0, "", false
}
