package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/validation"
)

// Handler provides HTTP endpoints for wallet operations
type Handler struct {
	service        *Service
	directDeposits bool // false when top-ups must go through the payment provider
	logger         *slog.Logger
}

// NewHandler creates a new ledger handler
func NewHandler(service *Service, logger *slog.Logger) *Handler {
	return &Handler{service: service, directDeposits: true, logger: logger}
}

// WithDirectDeposits toggles POST /wallet/deposits.
func (h *Handler) WithDirectDeposits(enabled bool) *Handler {
	h.directDeposits = enabled
	return h
}

// RegisterProtectedRoutes sets up wallet routes for the authenticated user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/wallet", h.GetWallet)
	r.GET("/wallet/transactions", h.GetHistory)
	r.GET("/wallet/audit", h.Audit)
	r.POST("/wallet/deposits", auth.RequireRole(auth.RoleBuyer), h.Deposit)
	r.POST("/wallet/withdrawals", auth.RequireRole(auth.RoleFarmer), h.Withdraw)
}

// GetWallet handles GET /v1/wallet
func (h *Handler) GetWallet(c *gin.Context) {
	w, err := h.service.Wallet(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"wallet": w})
}

// GetHistory handles GET /v1/wallet/transactions
func (h *Handler) GetHistory(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	page, err := h.service.HistoryPage(c.Request.Context(), auth.UserID(c), c.Query("cursor"), limit)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"transactions": page.Transactions,
		"count":        len(page.Transactions),
		"nextCursor":   page.NextCursor,
		"hasMore":      page.HasMore,
	})
}

// AmountRequest is the body of deposit and withdrawal requests.
type AmountRequest struct {
	Amount string `json:"amount" binding:"required"`
}

// Deposit handles POST /v1/wallet/deposits. Development and test
// deployments top up directly; production goes through funding.
func (h *Handler) Deposit(c *gin.Context) {
	if !h.directDeposits {
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "direct_deposits_disabled",
			"message": "Top up through the payment provider",
		})
		return
	}

	var req AmountRequest
	if !h.bindAmount(c, &req) {
		return
	}

	w, txn, err := h.service.Deposit(c.Request.Context(), auth.UserID(c), req.Amount, "")
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"wallet":      w,
		"transaction": txn,
	})
}

// Withdraw handles POST /v1/wallet/withdrawals
func (h *Handler) Withdraw(c *gin.Context) {
	var req AmountRequest
	if !h.bindAmount(c, &req) {
		return
	}

	w, txn, err := h.service.Withdraw(c.Request.Context(), auth.UserID(c), req.Amount)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"wallet":      w,
		"transaction": txn,
	})
}

// Audit handles GET /v1/wallet/audit, replaying the history against the balance.
func (h *Handler) Audit(c *gin.Context) {
	result, err := h.service.Audit(c.Request.Context(), auth.UserID(c))
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": result})
}

func (h *Handler) bindAmount(c *gin.Context, req *AmountRequest) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return false
	}
	if errs := validation.Validate(validation.ValidAmount("amount", req.Amount)); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return false
	}
	return true
}

func (h *Handler) writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrWalletNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrInsufficientFunds):
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "insufficient_funds", "message": err.Error()})
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrInvalidCursor):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, ErrDuplicateReference):
		c.JSON(http.StatusConflict, gin.H{"error": "duplicate_reference", "message": err.Error()})
	default:
		h.logger.Error("wallet operation failed", "error", err, "userId", auth.UserID(c))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Wallet operation failed",
		})
	}
}
