package reviewtask

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/praisedesk/settlement/internal/ledger"
	"github.com/praisedesk/settlement/internal/payment"
	"github.com/praisedesk/settlement/internal/pricing"
	"github.com/praisedesk/settlement/internal/validation"
)

// Handler provides HTTP endpoints for review tasks.
type Handler struct {
	service *Service
}

// NewHandler creates a new review-task handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up auth-required review-task routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/review-tasks", h.CreateTask)
	r.GET("/review-tasks", h.ListTasks)
	r.GET("/review-tasks/:id", h.GetTask)
	r.PUT("/review-tasks/:id/pricing", h.RepriceTask)
	r.POST("/review-tasks/:id/pay", h.PayTask)
	r.POST("/review-tasks/:id/examine", h.ExamineTask)
	r.POST("/review-tasks/:id/upload", h.UploadProof)
	r.POST("/review-tasks/:id/reject", h.BuyerReject)
	r.POST("/review-tasks/:id/confirm", h.ConfirmTask)
	r.POST("/review-tasks/:id/cancel", h.CancelTask)
	r.POST("/review-tasks/:id/refund", h.RefundTask)
}

// PayRequest is the body of POST /v1/review-tasks/:id/pay.
type PayRequest struct {
	Strategy string `json:"strategy" binding:"required"`
}

// ExamineRequest is the body of POST /v1/review-tasks/:id/examine.
type ExamineRequest struct {
	Approve *bool  `json:"approve" binding:"required"`
	Remark  string `json:"remark"`
}

// UploadRequest is the body of POST /v1/review-tasks/:id/upload.
type UploadRequest struct {
	Proof []string `json:"proof" binding:"required"`
}

// ReasonRequest is the optional body of reject, cancel and refund.
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// actorFrom builds the caller identity set by the auth middleware.
func actorFrom(c *gin.Context) Actor {
	return Actor{ID: c.GetString("authAccountID"), Role: Role(c.GetString("authRole"))}
}

// CreateTask handles POST /v1/review-tasks
func (h *Handler) CreateTask(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}

	task, err := h.service.Create(c.Request.Context(), actorFrom(c), req)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"task": task})
}

// GetTask handles GET /v1/review-tasks/:id
func (h *Handler) GetTask(c *gin.Context) {
	actor := actorFrom(c)
	task, err := h.service.Get(c.Request.Context(), actor, c.Param("id"))
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"task":    task,
		"allowed": Allowed(task, actor),
	})
}

// ListTasks handles GET /v1/review-tasks
func (h *Handler) ListTasks(c *gin.Context) {
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))

	tasks, err := h.service.List(c.Request.Context(), actorFrom(c), Filter{
		State:  State(c.Query("state")),
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": tasks,
		"count": len(tasks),
	})
}

// RepriceTask handles PUT /v1/review-tasks/:id/pricing
func (h *Handler) RepriceTask(c *gin.Context) {
	var in pricing.Input
	if err := c.ShouldBindJSON(&in); err != nil {
		invalidBody(c)
		return
	}
	h.respond(c)(h.service.Reprice(c.Request.Context(), actorFrom(c), c.Param("id"), in))
}

// PayTask handles POST /v1/review-tasks/:id/pay
func (h *Handler) PayTask(c *gin.Context) {
	var req PayRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	h.respond(c)(h.service.Pay(c.Request.Context(), actorFrom(c), c.Param("id"), payment.Strategy(req.Strategy)))
}

// ExamineTask handles POST /v1/review-tasks/:id/examine
func (h *Handler) ExamineTask(c *gin.Context) {
	var req ExamineRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	h.respond(c)(h.service.Examine(c.Request.Context(), actorFrom(c), c.Param("id"), *req.Approve, validation.SanitizeString(req.Remark, validation.MaxTextLength)))
}

// UploadProof handles POST /v1/review-tasks/:id/upload
func (h *Handler) UploadProof(c *gin.Context) {
	var req UploadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		invalidBody(c)
		return
	}
	for i, p := range req.Proof {
		req.Proof[i] = validation.SanitizeString(p, validation.MaxProofLength)
	}
	h.respond(c)(h.service.UploadProof(c.Request.Context(), actorFrom(c), c.Param("id"), req.Proof))
}

// BuyerReject handles POST /v1/review-tasks/:id/reject
func (h *Handler) BuyerReject(c *gin.Context) {
	req := bindReason(c)
	h.respond(c)(h.service.BuyerReject(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason))
}

// ConfirmTask handles POST /v1/review-tasks/:id/confirm
func (h *Handler) ConfirmTask(c *gin.Context) {
	h.respond(c)(h.service.Confirm(c.Request.Context(), actorFrom(c), c.Param("id")))
}

// CancelTask handles POST /v1/review-tasks/:id/cancel
func (h *Handler) CancelTask(c *gin.Context) {
	req := bindReason(c)
	h.respond(c)(h.service.Cancel(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason))
}

// RefundTask handles POST /v1/review-tasks/:id/refund
func (h *Handler) RefundTask(c *gin.Context) {
	req := bindReason(c)
	h.respond(c)(h.service.RefundWithoutConfirm(c.Request.Context(), actorFrom(c), c.Param("id"), req.Reason))
}

func (h *Handler) respond(c *gin.Context) func(*Task, error) {
	return func(task *Task, err error) {
		if err != nil {
			WriteError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"task": task})
	}
}

// bindReason reads an optional reason body. A missing body is fine.
func bindReason(c *gin.Context) ReasonRequest {
	var req ReasonRequest
	if c.Request.ContentLength > 0 {
		_ = c.ShouldBindJSON(&req)
	}
	req.Reason = validation.SanitizeString(req.Reason, validation.MaxTextLength)
	return req
}

func invalidBody(c *gin.Context) {
	c.JSON(http.StatusBadRequest, gin.H{
		"error":   "invalid_request",
		"message": "Invalid request body",
	})
}

// WriteError maps review-task, pricing and ledger errors to HTTP responses.
func WriteError(c *gin.Context, err error) {
	var verrs pricing.ValidationErrors
	switch {
	case errors.As(err, &verrs):
		pricing.WriteError(c, err)
		return
	case errors.Is(err, ErrTaskNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Review task not found"})
		return
	case errors.Is(err, ErrUnauthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "unauthorized", "message": err.Error()})
		return
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_transition", "message": err.Error()})
		return
	case errors.Is(err, ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
		return
	case errors.Is(err, ErrConcurrentModification):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "concurrent_modification",
			"message": err.Error(),
			"retry":   true,
		})
		return
	}
	ledger.WriteError(c, err)
}
