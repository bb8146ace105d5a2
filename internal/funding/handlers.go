package funding

import (
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/ledger"
)

const maxWebhookBytes = 64 << 10

// Handler provides top-up and webhook endpoints.
type Handler struct {
	service *Service
}

// NewHandler creates a new funding handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up the provider webhook, which authenticates by
// signature rather than bearer token.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/webhooks/stripe", h.Webhook)
}

// RegisterProtectedRoutes sets up top-up routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/wallet/topups", h.CreateTopUp)
}

// TopUpRequest is the body of a top-up request.
type TopUpRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// CreateTopUp handles POST /v1/wallet/topups
func (h *Handler) CreateTopUp(c *gin.Context) {
	var req TopUpRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	top, err := h.service.CreateTopUp(c.Request.Context(), auth.UserID(c), req.Amount, c.GetHeader("Idempotency-Key"))
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"topUp": top})
	case errors.Is(err, ErrUnconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "funding_unavailable", "message": "Payment provider is not configured"})
	case errors.Is(err, ledger.ErrInvalidAmount):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "amount must be a positive amount with at most 2 decimals"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "message": "Payment provider request failed"})
	}
}

// Webhook handles POST /v1/webhooks/stripe
func (h *Handler) Webhook(c *gin.Context) {
	payload, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request", "message": "Could not read body"})
		return
	}

	out, err := h.service.HandleWebhook(c.Request.Context(), payload, c.GetHeader("Stripe-Signature"))
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"received": true, "outcome": out})
	case errors.Is(err, ErrUnconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "funding_unavailable", "message": "Payment provider is not configured"})
	case errors.Is(err, ErrInvalidSignature):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_signature", "message": "Signature verification failed"})
	case errors.Is(err, ErrMalformedEvent), ledger.IsClientError(err):
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_event", "message": err.Error()})
	default:
		// Non-2xx makes the provider redeliver.
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Could not apply payment"})
	}
}
