package recommend

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// Handler provides the crop recommendation endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new recommendation handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up recommendation routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/recommendations/crops", h.RecommendCrops)
}

// RecommendCrops handles POST /v1/recommendations/crops?top=5
func (h *Handler) RecommendCrops(c *gin.Context) {
	var params Params
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	k := 0
	if v := c.Query("top"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			k = parsed
		}
	}

	result, err := h.service.Recommend(c.Request.Context(), params, k)
	if err != nil {
		if errors.Is(err, ErrInvalidParams) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, result)
}
