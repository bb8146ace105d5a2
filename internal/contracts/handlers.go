package contracts

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/validation"
)

// Handler provides HTTP endpoints for contract operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new contract handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up contract and milestone routes. All of
// them act on behalf of the authenticated user.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	buyer := auth.RequireRole(auth.RoleBuyer)
	farmer := auth.RequireRole(auth.RoleFarmer)

	r.POST("/contracts", buyer, h.ProposeContract)
	r.GET("/contracts", h.ListContracts)
	r.GET("/contracts/pending", farmer, h.PendingForFarmer)
	r.GET("/contracts/sent", buyer, h.SentPendingForBuyer)
	r.GET("/contracts/:id", h.GetContract)
	r.GET("/contracts/:id/dashboard", h.GetDashboard)
	r.GET("/contracts/:id/financials", h.GetFinancials)
	r.POST("/contracts/:id/counter", h.CounterOffer)
	r.POST("/contracts/:id/accept", h.AcceptContract)
	r.POST("/contracts/:id/reject", h.RejectContract)
	r.POST("/contracts/:id/cancel", buyer, h.CancelContract)
	r.POST("/contracts/:id/complete", farmer, h.CompleteContract)
	r.POST("/contracts/:id/milestones", buyer, h.DefineMilestones)
	r.GET("/contracts/:id/milestones", h.ListMilestones)
	r.POST("/contracts/:id/progress", farmer, h.SubmitProgress)
	r.POST("/contracts/:id/compliance", farmer, h.ComplianceCheck)
	r.GET("/contracts/:id/advice", h.ListAdvice)

	r.GET("/milestones/:id", h.GetMilestone)
	r.POST("/milestones/:id/complete", farmer, h.MarkComplete)
	r.POST("/milestones/:id/release", buyer, h.ReleasePayment)

	r.GET("/listings/:id/proposals", farmer, h.ListProposals)
	r.GET("/listings/:id/proposals/analysis", farmer, h.AnalyzeProposals)
}

// ActorFrom builds the acting party from the authenticated request.
func ActorFrom(c *gin.Context) Actor {
	return Actor{UserID: auth.UserID(c), Party: Party(auth.UserRole(c))}
}

// ProposeContract handles POST /v1/contracts
func (h *Handler) ProposeContract(c *gin.Context) {
	var req ProposeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.ValidQuantity("quantityProposed", req.Quantity),
		validation.ValidAmount("pricePerUnitAgreed", req.PricePerUnit),
		validation.OneOf("paymentTerms", string(req.PaymentTerms), "", string(TermsFinal), string(TermsMilestone)),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	contract, err := h.service.Propose(c.Request.Context(), ActorFrom(c), req)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"contract": contract})
}

// ListContracts handles GET /v1/contracts
func (h *Handler) ListContracts(c *gin.Context) {
	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	result, err := h.service.ListForUser(c.Request.Context(), ActorFrom(c), Status(c.Query("status")), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"contracts": result,
		"count":     len(result),
	})
}

// PendingForFarmer handles GET /v1/contracts/pending
func (h *Handler) PendingForFarmer(c *gin.Context) {
	result, err := h.service.PendingForFarmer(c.Request.Context(), ActorFrom(c))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": result, "count": len(result)})
}

// SentPendingForBuyer handles GET /v1/contracts/sent
func (h *Handler) SentPendingForBuyer(c *gin.Context) {
	result, err := h.service.SentPendingForBuyer(c.Request.Context(), ActorFrom(c))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": result, "count": len(result)})
}

// GetContract handles GET /v1/contracts/:id
func (h *Handler) GetContract(c *gin.Context) {
	contract, err := h.service.Get(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// GetDashboard handles GET /v1/contracts/:id/dashboard
func (h *Handler) GetDashboard(c *gin.Context) {
	d, err := h.service.Dashboard(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, d)
}

// GetFinancials handles GET /v1/contracts/:id/financials
func (h *Handler) GetFinancials(c *gin.Context) {
	f, err := h.service.Financials(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"financials": f})
}

// CounterOffer handles POST /v1/contracts/:id/counter
func (h *Handler) CounterOffer(c *gin.Context) {
	var req CounterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	contract, err := h.service.Counter(c.Request.Context(), ActorFrom(c), c.Param("id"), req)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// AcceptContract handles POST /v1/contracts/:id/accept
func (h *Handler) AcceptContract(c *gin.Context) {
	contract, err := h.service.Accept(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// RejectContract handles POST /v1/contracts/:id/reject
func (h *Handler) RejectContract(c *gin.Context) {
	contract, err := h.service.Reject(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// CancelContract handles POST /v1/contracts/:id/cancel
func (h *Handler) CancelContract(c *gin.Context) {
	contract, err := h.service.Cancel(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// CompleteContract handles POST /v1/contracts/:id/complete
func (h *Handler) CompleteContract(c *gin.Context) {
	contract, err := h.service.Complete(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contract": contract})
}

// DefineMilestonesRequest is the body of POST /v1/contracts/:id/milestones.
type DefineMilestonesRequest struct {
	Milestones []MilestoneInput `json:"milestones" binding:"required,dive"`
}

// DefineMilestones handles POST /v1/contracts/:id/milestones
func (h *Handler) DefineMilestones(c *gin.Context) {
	var req DefineMilestonesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	validators := make([]func() *validation.ValidationError, 0, 2*len(req.Milestones))
	for _, m := range req.Milestones {
		validators = append(validators,
			validation.MaxLength("name", m.Name, 255),
			validation.NonNegativeAmount("amount", m.Amount),
		)
	}
	if errs := validation.Validate(validators...); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	created, err := h.service.DefineMilestones(c.Request.Context(), ActorFrom(c), c.Param("id"), req.Milestones)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestones": created, "count": len(created)})
}

// ListMilestones handles GET /v1/contracts/:id/milestones
func (h *Handler) ListMilestones(c *gin.Context) {
	ms, err := h.service.ListMilestones(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestones": ms, "count": len(ms)})
}

// SubmitProgress handles POST /v1/contracts/:id/progress
func (h *Handler) SubmitProgress(c *gin.Context) {
	req, ok := bindEvidence(c)
	if !ok {
		return
	}
	m, err := h.service.SubmitProgress(c.Request.Context(), ActorFrom(c), c.Param("id"), req)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"milestone": m})
}

// ComplianceCheck handles POST /v1/contracts/:id/compliance
func (h *Handler) ComplianceCheck(c *gin.Context) {
	advice, err := h.service.ComplianceCheck(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"advice": advice})
}

// ListAdvice handles GET /v1/contracts/:id/advice
func (h *Handler) ListAdvice(c *gin.Context) {
	limit := 20
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 100 {
			limit = parsed
		}
	}
	advice, err := h.service.Advice(c.Request.Context(), ActorFrom(c), c.Param("id"), limit)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"advice": advice, "count": len(advice)})
}

// GetMilestone handles GET /v1/milestones/:id
func (h *Handler) GetMilestone(c *gin.Context) {
	m, err := h.service.GetMilestone(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": m})
}

// MarkComplete handles POST /v1/milestones/:id/complete
func (h *Handler) MarkComplete(c *gin.Context) {
	req, ok := bindEvidence(c)
	if !ok {
		return
	}
	m, err := h.service.MarkComplete(c.Request.Context(), ActorFrom(c), c.Param("id"), req)
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"milestone": m})
}

// ReleasePayment handles POST /v1/milestones/:id/release
func (h *Handler) ReleasePayment(c *gin.Context) {
	result, err := h.service.ReleasePayment(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListProposals handles GET /v1/listings/:id/proposals
func (h *Handler) ListProposals(c *gin.Context) {
	result, err := h.service.ProposalsForListing(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"contracts": result, "count": len(result)})
}

// AnalyzeProposals handles GET /v1/listings/:id/proposals/analysis
func (h *Handler) AnalyzeProposals(c *gin.Context) {
	analysis, err := h.service.AnalyzeProposals(c.Request.Context(), ActorFrom(c), c.Param("id"))
	if err != nil {
		h.mapError(c, err)
		return
	}
	if analysis == nil {
		c.JSON(http.StatusOK, gin.H{"analysis": nil, "message": "No pending proposals to analyze."})
		return
	}
	c.JSON(http.StatusOK, gin.H{"analysis": analysis})
}

func bindEvidence(c *gin.Context) (EvidenceRequest, bool) {
	var req EvidenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return req, false
	}
	if errs := validation.Validate(
		validation.Evidence(req.UpdateText, req.ImageURL),
		validation.MaxLength("name", req.Name, 255),
		validation.MaxLength("updateText", req.UpdateText, validation.MaxStringLength),
		validation.ValidURL("imageUrl", req.ImageURL),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return req, false
	}
	return req, true
}

// mapError maps service errors to HTTP responses.
func (h *Handler) mapError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	code := "internal_error"
	switch {
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrMilestoneNotFound), errors.Is(err, listings.ErrNotFound):
		status = http.StatusNotFound
		code = "not_found"
	case errors.Is(err, ErrNotAuthorized):
		status = http.StatusForbidden
		code = "forbidden"
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrAlreadyComplete), errors.Is(err, ErrAlreadyReleased):
		status = http.StatusConflict
		code = "invalid_state"
	case errors.Is(err, ledger.ErrInsufficientFunds):
		status = http.StatusUnprocessableEntity
		code = "insufficient_funds"
	case errors.Is(err, ErrInsufficientEscrow):
		status = http.StatusUnprocessableEntity
		code = "insufficient_escrow"
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ledger.ErrInvalidAmount):
		status = http.StatusBadRequest
		code = "validation_error"
	case errors.Is(err, ledger.ErrWalletNotFound):
		status = http.StatusUnprocessableEntity
		code = "wallet_not_found"
	case errors.Is(err, escrow.ErrInvalidTerms):
		status = http.StatusConflict
		code = "invalid_state"
	}
	c.JSON(status, gin.H{"error": code, "message": err.Error()})
}
