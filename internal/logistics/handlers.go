package logistics

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/contracts"
)

// Handler provides HTTP endpoints for shipments.
type Handler struct {
	service *Service
}

// NewHandler creates a new logistics handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up logistics routes. Either party of the
// contract may use them.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/milestones/:id/quote", h.Quote)
	r.POST("/milestones/:id/shipment", h.Book)
	r.GET("/shipments/:id", h.Track)
	r.DELETE("/shipments/:id", h.Cancel)
	r.GET("/contracts/:id/shipments", h.ListForContract)
}

// Quote handles POST /v1/milestones/:id/quote
func (h *Handler) Quote(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	q, err := h.service.Quote(c.Request.Context(), contracts.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"quote": q})
}

// Book handles POST /v1/milestones/:id/shipment
func (h *Handler) Book(c *gin.Context) {
	var req QuoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	sh, err := h.service.Book(c.Request.Context(), contracts.ActorFrom(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"shipment": sh})
}

// Track handles GET /v1/shipments/:id
func (h *Handler) Track(c *gin.Context) {
	sh, err := h.service.Track(c.Request.Context(), contracts.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipment": sh})
}

// Cancel handles DELETE /v1/shipments/:id
func (h *Handler) Cancel(c *gin.Context) {
	if err := h.service.Cancel(c.Request.Context(), contracts.ActorFrom(c), c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Booking cancelled successfully."})
}

// ListForContract handles GET /v1/contracts/:id/shipments
func (h *Handler) ListForContract(c *gin.Context) {
	list, err := h.service.ForContract(c.Request.Context(), contracts.ActorFrom(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"shipments": list, "count": len(list)})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrShipmentNotFound), errors.Is(err, contracts.ErrMilestoneNotFound), errors.Is(err, contracts.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, contracts.ErrNotAuthorized):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrAlreadyBooked), errors.Is(err, ErrCannotCancel):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
