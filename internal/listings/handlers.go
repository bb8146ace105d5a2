package listings

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/validation"
)

// Handler provides HTTP endpoints for listings.
type Handler struct {
	service *Service
}

// NewHandler creates a new listing handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up listing routes. Every route needs a token
// so the owner view can be applied.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/listings", h.ListListings)
	r.GET("/listings/:id", h.GetListing)
	r.POST("/listings", auth.RequireRole(auth.RoleFarmer), h.CreateListing)
	r.PUT("/listings/:id", auth.RequireRole(auth.RoleFarmer), h.UpdateListing)
}

// CreateListing handles POST /v1/listings
func (h *Handler) CreateListing(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.Required("cropType", req.CropType),
		validation.MaxLength("cropType", req.CropType, 100),
		validation.Required("quantity", req.Quantity),
		validation.ValidQuantity("quantity", req.Quantity),
		validation.Required("unit", req.Unit),
		validation.MaxLength("unit", req.Unit, 50),
		validation.Required("expectedPricePerUnit", req.ExpectedPricePerUnit),
		validation.ValidAmount("expectedPricePerUnit", req.ExpectedPricePerUnit),
		validation.Required("harvestDate", req.HarvestDate),
		validation.Required("location", req.Location),
		validation.MaxLength("location", req.Location, 255),
		validation.ValidURL("imageUrl", req.ImageURL),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	listing, err := h.service.Create(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"listing": listing})
}

// UpdateListing handles PUT /v1/listings/:id
func (h *Handler) UpdateListing(c *gin.Context) {
	var req UpdateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	listing, err := h.service.Update(c.Request.Context(), auth.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// GetListing handles GET /v1/listings/:id
func (h *Handler) GetListing(c *gin.Context) {
	listing, err := h.service.Get(c.Request.Context(), auth.UserID(c), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listing": listing})
}

// ListListings handles GET /v1/listings
func (h *Handler) ListListings(c *gin.Context) {
	f := Filter{
		Status:   Status(c.Query("status")),
		FarmerID: c.Query("farmerId"),
		CropType: c.Query("cropType"),
		Location: c.Query("location"),
	}
	if c.Query("mine") == "true" {
		f.FarmerID = auth.UserID(c)
	}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}

	result, err := h.service.List(c.Request.Context(), auth.UserID(c), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"listings": result, "count": len(result)})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": "Listing not found"})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrClosed):
		c.JSON(http.StatusConflict, gin.H{"error": "invalid_state", "message": err.Error()})
	case errors.Is(err, ErrInvalidDate), errors.Is(err, money.ErrInvalidAmount), errors.Is(err, money.ErrInvalidQuantity):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
	}
}
