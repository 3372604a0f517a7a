package admin

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/praisedesk/settlement/internal/ledger"
)

// Handler provides admin HTTP endpoints.
type Handler struct {
	reconciler Reconciler
	auditor    Auditor
	exposure   ExposureSource
}

// NewHandler creates a new admin handler.
func NewHandler(auditor Auditor, exposure ExposureSource) *Handler {
	return &Handler{auditor: auditor, exposure: exposure}
}

// WithReconciler sets the reconciliation runner for on-demand reconciliation.
func (h *Handler) WithReconciler(r Reconciler) *Handler {
	h.reconciler = r
	return h
}

// RegisterRoutes sets up admin routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/admin/accounts", h.listAccounts)
	r.GET("/admin/accounts/:id/audit", h.auditAccount)
	r.GET("/admin/merchants/:id/exposure", h.merchantExposure)
	r.POST("/admin/reconcile", h.triggerReconciliation)
	r.GET("/admin/reconcile", h.lastReconciliation)
}

// listAccounts pages through every account.
func (h *Handler) listAccounts(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	accounts, err := h.auditor.ListAccounts(c.Request.Context(), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to list accounts"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"accounts": accounts, "count": len(accounts)})
}

// auditAccount replays one account's finance records.
func (h *Handler) auditAccount(c *gin.Context) {
	audit, err := h.auditor.Audit(c.Request.Context(), c.Param("id"))
	if err != nil {
		ledger.WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"audit": audit, "ok": audit.OK()})
}

// merchantExposure sums the deposit a merchant's open tasks hold.
func (h *Handler) merchantExposure(c *gin.Context) {
	exp, err := h.exposure.Exposure(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Failed to compute exposure"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"exposure": exp})
}

// triggerReconciliation runs an on-demand reconciliation.
func (h *Handler) triggerReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "Reconciliation is not configured"})
		return
	}

	report, err := h.reconciler.RunAll(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "reconciliation_failed", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}

// lastReconciliation returns the most recent report.
func (h *Handler) lastReconciliation(c *gin.Context) {
	if h.reconciler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "not_configured", "message": "Reconciliation is not configured"})
		return
	}

	report := h.reconciler.Last()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no_report", "message": "Reconciliation has not run yet"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"report": report})
}
