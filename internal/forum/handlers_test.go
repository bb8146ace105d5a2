package forum_test

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/forum"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if u := c.GetHeader("X-Test-User"); u != "" {
			c.Set(auth.ContextKeyUserID, u)
			c.Set(auth.ContextKeyRole, c.GetHeader("X-Test-Role"))
		}
		c.Next()
	})
	v1 := r.Group("/v1")
	v1.Use(auth.RequireAuth())
	forum.NewHandler(forum.NewService(forum.NewMemoryStore(), nil)).RegisterProtectedRoutes(v1)
	return r
}

func request(r *gin.Engine, user, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequestWithContext(context.Background(), method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("X-Test-User", user)
		req.Header.Set("X-Test-Role", "farmer")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_PostAndReply(t *testing.T) {
	r := setupRouter()

	w := request(r, "usr_asha", http.MethodPost, "/v1/forum/posts", map[string]string{
		"title":    "Best sowing window for soybean?",
		"content":  "Monsoon arrived late in Indore this year.",
		"category": "Crop Planning",
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var created struct {
		Post forum.Post `json:"post"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	postID := created.Post.ID

	w = request(r, "usr_asha", http.MethodPost, "/v1/forum/posts/"+postID+"/replies", map[string]string{"content": "Bump"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = request(r, "usr_ravi", http.MethodPost, "/v1/forum/posts/"+postID+"/replies", map[string]string{"content": "Wait for 100mm of rain."})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = request(r, "usr_ravi", http.MethodGet, "/v1/forum/posts/"+postID, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var thread forum.Thread
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &thread))
	assert.Equal(t, 1, thread.Post.ReplyCount)
	require.Len(t, thread.Replies, 1)
	assert.Equal(t, "usr_ravi", thread.Replies[0].AuthorID)

	w = request(r, "usr_ravi", http.MethodGet, "/v1/forum/posts?category=crop+planning&q=soybean", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var list struct {
		Posts []forum.Post `json:"posts"`
		Count int          `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &list))
	assert.Equal(t, 1, list.Count)
	assert.Equal(t, 1, list.Posts[0].ReplyCount)
}

func TestHandler_Validation(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		name string
		body map[string]string
		want int
	}{
		{"missing content", map[string]string{"category": "General"}, http.StatusBadRequest},
		{"missing category", map[string]string{"content": "Hi"}, http.StatusBadRequest},
		{"bad image url", map[string]string{"content": "Hi", "category": "General", "imageUrl": "ftp://x"}, http.StatusBadRequest},
		{"ok without title", map[string]string{"content": "Hi", "category": "General"}, http.StatusCreated},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			w := request(r, "usr_asha", http.MethodPost, "/v1/forum/posts", tc.body)
			assert.Equal(t, tc.want, w.Code, w.Body.String())
		})
	}

	w := request(r, "usr_ravi", http.MethodPost, "/v1/forum/posts/pst_missing/replies", map[string]string{"content": "x"})
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = request(r, "usr_ravi", http.MethodGet, "/v1/forum/posts/pst_missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHandler_RequiresToken(t *testing.T) {
	r := setupRouter()
	w := request(r, "", http.MethodGet, "/v1/forum/posts", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
