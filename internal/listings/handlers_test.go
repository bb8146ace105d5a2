package listings_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/store"
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
	listings.NewHandler(listings.NewService(store.NewMemory(), nil)).RegisterProtectedRoutes(v1)
	return r
}

func request(r *gin.Engine, user, role, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Test-User", user)
	req.Header.Set("X-Test-Role", role)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

type listingResponse struct {
	Listing listings.Listing `json:"listing"`
	Error   string           `json:"error"`
}

func createBody() map[string]string {
	return map[string]string{
		"cropType":             "Tomato",
		"quantity":             "40",
		"unit":                 "crate",
		"expectedPricePerUnit": "350",
		"harvestDate":          "2026-12-01",
		"location":             "Nashik, Maharashtra",
	}
}

func TestHandler_CreateAndGet(t *testing.T) {
	r := setupRouter()

	w := request(r, "usr_farmer", "farmer", "POST", "/v1/listings", createBody())
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var created listingResponse
	if err := json.Unmarshal(w.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.Listing.ExpectedPricePerUnit != "350.00" {
		t.Errorf("expected 350.00, got %s", created.Listing.ExpectedPricePerUnit)
	}

	w = request(r, "usr_buyer", "buyer", "GET", "/v1/listings/"+created.Listing.ID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get: expected 200, got %d", w.Code)
	}
	var got listingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &got)
	if got.Listing.RecommendedTemplate != "" {
		t.Errorf("buyer should not see the template recommendation, got %q", got.Listing.RecommendedTemplate)
	}

	w = request(r, "usr_buyer", "buyer", "GET", "/v1/listings?cropType=tom", nil)
	var list struct {
		Count int `json:"count"`
	}
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if list.Count != 1 {
		t.Errorf("expected 1 listing, got %d", list.Count)
	}

	w = request(r, "usr_buyer", "buyer", "GET", "/v1/listings/lst_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}
}

func TestHandler_CreateRequiresFarmer(t *testing.T) {
	r := setupRouter()
	w := request(r, "usr_buyer", "buyer", "POST", "/v1/listings", createBody())
	if w.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", w.Code)
	}
}

func TestHandler_CreateValidation(t *testing.T) {
	r := setupRouter()

	tests := []struct {
		field, value string
	}{
		{"cropType", ""},
		{"quantity", "-1"},
		{"expectedPricePerUnit", "abc"},
		{"harvestDate", "next week"},
		{"imageUrl", "ftp://x"},
	}
	for _, tt := range tests {
		body := createBody()
		body[tt.field] = tt.value
		w := request(r, "usr_farmer", "farmer", "POST", "/v1/listings", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s=%q: expected 400, got %d: %s", tt.field, tt.value, w.Code, w.Body.String())
		}
	}
}

func TestHandler_UpdateOwnership(t *testing.T) {
	r := setupRouter()

	w := request(r, "usr_farmer", "farmer", "POST", "/v1/listings", createBody())
	var created listingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &created)

	w = request(r, "usr_farmer", "farmer", "PUT", "/v1/listings/"+created.Listing.ID, map[string]string{"quantity": "55"})
	if w.Code != http.StatusOK {
		t.Fatalf("update: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var updated listingResponse
	_ = json.Unmarshal(w.Body.Bytes(), &updated)
	if updated.Listing.Quantity != "55" {
		t.Errorf("expected quantity 55, got %s", updated.Listing.Quantity)
	}

	w = request(r, "usr_farmer2", "farmer", "PUT", "/v1/listings/"+created.Listing.ID, map[string]string{"quantity": "1"})
	if w.Code != http.StatusForbidden {
		t.Errorf("other farmer: expected 403, got %d", w.Code)
	}
}
