package auth

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func setupAuthRouter(m *Manager) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(Middleware(m))

	v1 := r.Group("/v1")
	h := NewHandler(m)
	h.RegisterRoutes(v1)

	protected := v1.Group("")
	protected.Use(RequireAuth())
	h.RegisterProtectedRoutes(protected)

	farmers := v1.Group("/farm")
	farmers.Use(RequireRole(RoleFarmer))
	farmers.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"userId": UserID(c), "role": UserRole(c)})
	})
	return r
}

func registerUser(t *testing.T, r *gin.Engine, email string, role Role) string {
	t.Helper()
	body, _ := json.Marshal(map[string]string{
		"email":    email,
		"password": "password1",
		"fullName": "Test User",
		"role":     string(role),
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth/register", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("Expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return resp.Token
}

func TestHandler_RegisterAndMe(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))
	token := registerUser(t, r, "farmer@village.in", RoleFarmer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/users/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if bytes.Contains(w.Body.Bytes(), []byte("password")) {
		t.Error("response must not expose the password hash")
	}
}

func TestHandler_RegisterValidation(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))

	body := []byte(`{"email":"bad","password":"short","role":"admin"}`)
	w := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/v1/auth/register", bytes.NewReader(body))
	r.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_DuplicateRegister(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))
	registerUser(t, r, "dup@village.in", RoleBuyer)

	body, _ := json.Marshal(map[string]string{"email": "dup@village.in", "password": "password1", "role": "buyer"})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/auth/register", bytes.NewReader(body)))
	if w.Code != http.StatusConflict {
		t.Errorf("Expected 409, got %d", w.Code)
	}
}

func TestHandler_Login(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))
	registerUser(t, r, "login@village.in", RoleBuyer)

	w := httptest.NewRecorder()
	body := []byte(`{"email":"login@village.in","password":"password1"}`)
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	body = []byte(`{"email":"login@village.in","password":"nope"}`)
	r.ServeHTTP(w, httptest.NewRequest("POST", "/v1/auth/login", bytes.NewReader(body)))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestRequireAuth_NoToken(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/users/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected 401, got %d", w.Code)
	}
}

func TestRequireRole(t *testing.T) {
	r := setupAuthRouter(newTestManager(&fakeWallets{}))
	buyerToken := registerUser(t, r, "b@village.in", RoleBuyer)
	farmerToken := registerUser(t, r, "f@village.in", RoleFarmer)

	w := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/v1/farm/ping", nil)
	req.Header.Set("Authorization", "Bearer "+buyerToken)
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Errorf("Expected 403 for buyer, got %d", w.Code)
	}

	// Query token form used by websocket clients
	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest("GET", "/v1/farm/ping?token="+farmerToken, nil))
	if w.Code != http.StatusOK {
		t.Errorf("Expected 200 for farmer, got %d: %s", w.Code, w.Body.String())
	}
}
