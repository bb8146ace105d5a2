package forum

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/validation"
)

// Handler provides HTTP endpoints for the community forum.
type Handler struct {
	service *Service
}

// NewHandler creates a new forum handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes sets up forum routes for signed-in users.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.GET("/forum/posts", h.ListPosts)
	r.GET("/forum/posts/:id", h.GetThread)
	r.POST("/forum/posts", h.CreatePost)
	r.POST("/forum/posts/:id/replies", h.CreateReply)
}

// ListPosts handles GET /v1/forum/posts?category=&q=&limit=
func (h *Handler) ListPosts(c *gin.Context) {
	f := Filter{Category: c.Query("category"), Query: c.Query("q")}
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			f.Limit = parsed
		}
	}
	posts, err := h.service.ListPosts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"posts": posts, "count": len(posts)})
}

// GetThread handles GET /v1/forum/posts/:id
func (h *Handler) GetThread(c *gin.Context) {
	t, err := h.service.Thread(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, t)
}

// CreatePost handles POST /v1/forum/posts
func (h *Handler) CreatePost(c *gin.Context) {
	var req CreatePostRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	if errs := validation.Validate(
		validation.MaxLength("title", req.Title, 200),
		validation.Required("content", req.Content),
		validation.MaxLength("content", req.Content, validation.MaxStringLength),
		validation.Required("category", req.Category),
		validation.MaxLength("category", req.Category, 50),
		validation.ValidURL("imageUrl", req.ImageURL),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	p, err := h.service.CreatePost(c.Request.Context(), auth.UserID(c), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"post": p})
}

// CreateReply handles POST /v1/forum/posts/:id/replies
func (h *Handler) CreateReply(c *gin.Context) {
	var req CreateReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}
	if errs := validation.Validate(
		validation.Required("content", req.Content),
		validation.MaxLength("content", req.Content, validation.MaxStringLength),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	r, err := h.service.Reply(c.Request.Context(), auth.UserID(c), c.Param("id"), req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"reply": r})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrPostNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not_found", "message": err.Error()})
	case errors.Is(err, ErrOwnPost):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal_error", "message": "Internal server error"})
	}
}
