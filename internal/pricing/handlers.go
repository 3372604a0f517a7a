package pricing

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handler exposes the calculator over HTTP.
type Handler struct {
	calc *Calculator
}

// NewHandler creates a new pricing handler.
func NewHandler(calc *Calculator) *Handler {
	return &Handler{calc: calc}
}

// RegisterRoutes sets up the public pricing routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/pricing/table", h.GetTable)
	r.POST("/pricing/quote", h.Quote)
}

// GetTable handles GET /v1/pricing/table
func (h *Handler) GetTable(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"table": h.calc.Table()})
}

// Quote handles POST /v1/pricing/quote
func (h *Handler) Quote(c *gin.Context) {
	var in Input
	if err := c.ShouldBindJSON(&in); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	plan, err := h.calc.Price(in)
	if err != nil {
		WriteError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"plan": plan})
}

// WriteError renders a pricing failure. Validation errors carry their
// per-field details.
func WriteError(c *gin.Context, err error) {
	var verrs ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": verrs.Error(),
			"details": verrs,
		})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{
		"error":   "internal_error",
		"message": err.Error(),
	})
}
