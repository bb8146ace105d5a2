package negotiation

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/money"
)

// Handler provides the negotiation room endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new negotiation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up the room socket and the chat log routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/contracts/:id/ws", h.Connect)
	r.GET("/contracts/:id/messages", h.ListMessages)
	r.POST("/contracts/:id/messages", h.PostMessage)
}

func sender(c *gin.Context) Sender {
	return Sender{ContractID: c.Param("id"), UserID: auth.UserID(c), Role: string(auth.UserRole(c))}
}

// Connect handles GET /v1/contracts/:id/ws
func (h *Handler) Connect(c *gin.Context) {
	from := sender(c)
	if err := h.service.Authorize(c.Request.Context(), from.ContractID, from.UserID); err != nil {
		writeError(c, err)
		return
	}
	h.service.Hub().Serve(c.Writer, c.Request, from)
}

// ListMessages handles GET /v1/contracts/:id/messages
func (h *Handler) ListMessages(c *gin.Context) {
	limit := 100
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}
	from := sender(c)
	msgs, err := h.service.History(c.Request.Context(), from.ContractID, from.UserID, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs, "count": len(msgs)})
}

// PostMessage handles POST /v1/contracts/:id/messages
func (h *Handler) PostMessage(c *gin.Context) {
	var req ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	msg, err := h.service.SendMessage(c.Request.Context(), sender(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"message": msg})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotParty):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrEmptyMessage), errors.Is(err, ErrMessageTooBig),
		errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
