package weather

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mbd888/krishiconnect/internal/circuitbreaker"
)

// Handler provides the weather advisory endpoint.
type Handler struct {
	service *Service
}

// NewHandler creates a new weather handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up weather routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/weather", h.GetWeather)
}

// GetWeather handles GET /v1/weather?lat=18.52&lon=73.85
func (h *Handler) GetWeather(c *gin.Context) {
	lat, lon := h.service.DefaultLocation()
	var err error
	if v := c.Query("lat"); v != "" {
		if lat, err = strconv.ParseFloat(v, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "lat must be a number"})
			return
		}
	}
	if v := c.Query("lon"); v != "" {
		if lon, err = strconv.ParseFloat(v, 64); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": "lon must be a number"})
			return
		}
	}

	report, err := h.service.Report(c.Request.Context(), lat, lon)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, report)
	case errors.Is(err, ErrInvalidLocation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation_error", "message": err.Error()})
	case errors.Is(err, ErrUnconfigured):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather_unavailable", "message": "Weather provider is not configured"})
	case errors.Is(err, circuitbreaker.ErrOpen):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "weather_unavailable", "message": "Weather provider is temporarily unavailable"})
	default:
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream_error", "message": "Weather provider request failed"})
	}
}
