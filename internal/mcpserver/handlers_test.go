package mcpserver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewClient(Config{APIURL: ts.URL, Token: "tok_test"})
	client.backoff = time.Millisecond
	return NewHandlers(client), ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ============================================================
// Client tests
// ============================================================

func TestClient_AuthHeader(t *testing.T) {
	var gotAuth string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "secret-token"})
	_, err := client.GetWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer secret-token", gotAuth)
}

func TestClient_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":   "insufficient_funds",
			"message": "insufficient funds: balance 100.00, need 500.00",
		})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	_, err := client.ContractAction(context.Background(), "ctr_1", "accept")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "balance 100.00, need 500.00")
}

func TestClient_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte("bad things"))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	_, err := client.GetWallet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "bad things")
}

func TestClient_RetriesReadsOnServerError(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"wallet": map[string]any{"balance": "10.00"}})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	client.backoff = time.Millisecond
	_, err := client.GetWallet(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), calls.Load())
}

func TestClient_DoesNotRetryWrites(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	client.backoff = time.Millisecond
	_, err := client.ReleasePayment(context.Background(), "ms_1")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "not_found", "message": "Contract not found"})
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	client.backoff = time.Millisecond
	_, err := client.GetDashboard(context.Background(), "ctr_missing")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestClient_ConnectionRefused(t *testing.T) {
	client := NewClient(Config{APIURL: "http://127.0.0.1:1", Token: "t"})
	client.attempts = 1
	_, err := client.GetWallet(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_ListListings_QueryParams(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/listings", r.URL.Path)
		assert.Equal(t, "Wheat", r.URL.Query().Get("cropType"))
		assert.Equal(t, "Sehore", r.URL.Query().Get("location"))
		assert.Equal(t, "active", r.URL.Query().Get("status"))
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"listings":[]}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	_, err := client.ListListings(context.Background(), "Wheat", "Sehore", "active", 5)
	require.NoError(t, err)
}

func TestClient_GetWeather_DefaultLocation(t *testing.T) {
	var query string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		_, _ = w.Write([]byte(`{}`))
	}))
	defer ts.Close()

	client := NewClient(Config{APIURL: ts.URL, Token: "t"})
	_, err := client.GetWeather(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Empty(t, query)

	_, err = client.GetWeather(context.Background(), 23.2, 77.4)
	require.NoError(t, err)
	assert.Equal(t, "lat=23.2&lon=77.4", query)
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCheckWallet(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/wallet", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"wallet": map[string]any{"id": "wal_1", "userId": "usr_1", "balance": "1250.50"},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckWallet(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "wal_1")
	assert.Contains(t, text, "1250.50 INR")
}

func TestHandleBrowseListings(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"listings": []map[string]any{
				{
					"id": "lst_1", "cropType": "Soybean", "quantity": "40", "unit": "quintal",
					"expectedPricePerUnit": "4600.00", "harvestDate": "2026-10-20",
					"location": "Indore", "recommendedTemplate": "milestone",
				},
				{
					"id": "lst_2", "cropType": "Wheat", "quantity": "25", "unit": "quintal",
					"expectedPricePerUnit": "2275.00", "harvestDate": "2027-03-30", "location": "Sehore",
				},
			},
			"count": 2,
		})
	}))
	defer cleanup()

	result, err := h.HandleBrowseListings(context.Background(), makeRequest(map[string]any{"crop_type": "Soybean"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Found 2 listing(s)")
	assert.Contains(t, text, "1. Soybean (lst_1)")
	assert.Contains(t, text, "40 quintal at 4600.00 INR/quintal")
	assert.Contains(t, text, "Suggested terms: milestone")
	assert.Contains(t, text, "2. Wheat (lst_2)")
}

func TestHandleBrowseListings_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"listings":[],"count":0}`))
	}))
	defer cleanup()

	result, err := h.HandleBrowseListings(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "No listings found matching your criteria.", resultText(t, result))
}

func TestHandleListContracts(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ongoing", r.URL.Query().Get("status"))
		writeJSON(w, http.StatusOK, map[string]any{
			"contracts": []map[string]any{{
				"id": "ctr_1", "status": "ongoing", "listingId": "lst_1",
				"quantityProposed": "10", "pricePerUnitAgreed": "50.00", "paymentTerms": "milestone",
			}},
		})
	}))
	defer cleanup()

	result, err := h.HandleListContracts(context.Background(), makeRequest(map[string]any{"status": "ongoing"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "1. ctr_1 [ongoing]")
	assert.Contains(t, text, "10 x 50.00 INR, milestone payment, listing lst_1")
}

func TestHandleContractDashboard(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contracts/ctr_1/dashboard", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{
			"contract": map[string]any{
				"id": "ctr_1", "status": "ongoing", "quantityProposed": "10",
				"pricePerUnitAgreed": "50.00", "paymentTerms": "milestone",
			},
			"financials": map[string]any{
				"totalValue": "500.00", "escrowAmount": "300.00", "amountPaid": "200.00", "remainingToPay": "300.00",
			},
			"milestones": []map[string]any{
				{"id": "ms_1", "name": "Sowing", "amount": "200.00", "isComplete": true, "paymentReleased": true},
				{"id": "ms_2", "name": "Flowering", "amount": "100.00", "isComplete": true},
				{"id": "ms_3", "name": "Harvest", "amount": "200.00"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleContractDashboard(context.Background(), makeRequest(map[string]any{"contract_id": "ctr_1"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Contract ctr_1 [ongoing]")
	assert.Contains(t, text, "In escrow:   300.00 INR")
	assert.Contains(t, text, "Sowing (ms_1): 200.00 INR, paid")
	assert.Contains(t, text, "Flowering (ms_2): 100.00 INR, complete, awaiting release")
	assert.Contains(t, text, "Harvest (ms_3): 200.00 INR, open")
}

func TestHandleContractDashboard_MissingID(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleContractDashboard(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "contract_id is required")
}

func TestHandleProposeContract(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/contracts", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		var got map[string]string
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "lst_1", got["listingId"])
		assert.Equal(t, "20", got["quantityProposed"])
		assert.Equal(t, "2150.00", got["pricePerUnitAgreed"])
		assert.Equal(t, "milestone", got["paymentTerms"])

		writeJSON(w, http.StatusCreated, map[string]any{"contract": map[string]any{
			"id": "ctr_9", "status": "pending_farmer_approval", "quantityProposed": "20",
			"pricePerUnitAgreed": "2150.00", "paymentTerms": "milestone",
		}})
	}))
	defer cleanup()

	result, err := h.HandleProposeContract(context.Background(), makeRequest(map[string]any{
		"listing_id": "lst_1", "quantity": "20", "price_per_unit": "2150.00", "payment_terms": "milestone",
	}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	text := resultText(t, result)
	assert.Contains(t, text, "Contract ID: ctr_9")
	assert.Contains(t, text, "Status: pending_farmer_approval")
	assert.Contains(t, text, "No money has moved")
}

func TestHandleProposeContract_MissingFields(t *testing.T) {
	h, cleanup := newTestSetup(http.NotFoundHandler())
	defer cleanup()

	result, err := h.HandleProposeContract(context.Background(), makeRequest(map[string]any{"listing_id": "lst_1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleCounterOffer(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/contracts/ctr_1/counter", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"contract": map[string]any{
			"status": "negotiating", "quantityProposed": "15", "pricePerUnitAgreed": "55.00",
		}})
	}))
	defer cleanup()

	result, err := h.HandleCounterOffer(context.Background(), makeRequest(map[string]any{
		"contract_id": "ctr_1", "quantity": "15", "price_per_unit": "55.00",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "15 x 55.00 INR")
	assert.Contains(t, text, "Status: negotiating")
}

func TestHandleRespondToContract(t *testing.T) {
	var path string
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		writeJSON(w, http.StatusOK, map[string]any{"contract": map[string]any{"status": "ongoing"}})
	}))
	defer cleanup()

	result, err := h.HandleRespondToContract(context.Background(), makeRequest(map[string]any{
		"contract_id": "ctr_1", "action": "accept",
	}))
	require.NoError(t, err)
	assert.Equal(t, "/v1/contracts/ctr_1/accept", path)
	assert.Contains(t, resultText(t, result), "Contract ctr_1 accepted.\nStatus: ongoing")

	result, err = h.HandleRespondToContract(context.Background(), makeRequest(map[string]any{
		"contract_id": "ctr_1", "action": "delete",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleRespondToContract_APIError(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error": "invalid_state", "message": "invalid state transition: cannot accept your own offer",
		})
	}))
	defer cleanup()

	result, err := h.HandleRespondToContract(context.Background(), makeRequest(map[string]any{
		"contract_id": "ctr_1", "action": "accept",
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "cannot accept your own offer")
}

func TestHandleReleaseMilestone(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/milestones/ms_3/release", r.URL.Path)
		writeJSON(w, http.StatusOK, map[string]any{"amountReleased": "200.00", "final": true})
	}))
	defer cleanup()

	result, err := h.HandleReleaseMilestone(context.Background(), makeRequest(map[string]any{"milestone_id": "ms_3"}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Released 200.00 INR for milestone ms_3.")
	assert.Contains(t, text, "the contract is complete")
}

func TestHandleSendMessage(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		var got map[string]string
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, "Can you do 52?", got["message"])
		assert.Equal(t, "52.00", got["proposedPrice"])
		_, hasQty := got["proposedQuantity"]
		assert.False(t, hasQty)
		writeJSON(w, http.StatusCreated, map[string]any{"message": map[string]any{"id": "msg_1"}})
	}))
	defer cleanup()

	result, err := h.HandleSendMessage(context.Background(), makeRequest(map[string]any{
		"contract_id": "ctr_1", "message": "Can you do 52?", "proposed_price": "52.00",
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Message posted to contract ctr_1.")
	assert.Contains(t, text, `"id": "msg_1"`)
}

func TestHandleRecommendCrops(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "3", r.URL.Query().Get("top"))
		body, _ := io.ReadAll(r.Body)
		var got map[string]float64
		require.NoError(t, json.Unmarshal(body, &got))
		assert.Equal(t, 6.5, got["ph"])
		assert.Equal(t, 2.0, got["areaHectares"])
		_, hasNitrogen := got["nitrogen"]
		assert.False(t, hasNitrogen)

		writeJSON(w, http.StatusOK, map[string]any{
			"source": "rule-based",
			"recommendations": []map[string]any{
				{"name": "Wheat", "suitabilityScore": 0.86, "reason": "Ideal pH."},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleRecommendCrops(context.Background(), makeRequest(map[string]any{
		"ph": 6.5, "area_hectares": 2.0, "top": 3.0,
	}))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Top 1 crop(s) (rule-based)")
	assert.Contains(t, text, "1. Wheat (86% suitable)")
	assert.Contains(t, text, "Ideal pH.")
}

func TestHandleWeatherAdvice(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"latitude": 18.52, "longitude": 73.85,
			"insights": []map[string]any{{
				"type": "Spraying", "insight": "High winds expected.", "action": "Avoid spraying pesticides today.",
			}},
			"currentConditions": map[string]any{"temperature": 29.5, "humidity": 62.0, "description": "Partly cloudy"},
		})
	}))
	defer cleanup()

	result, err := h.HandleWeatherAdvice(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	text := resultText(t, result)
	assert.Contains(t, text, "Weather at 18.52, 73.85")
	assert.Contains(t, text, "Now: 29.5C, 62% humidity, Partly cloudy")
	assert.Contains(t, text, "[Spraying] High winds expected.")
}

func TestHandleWeatherAdvice_Unavailable(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"error": "weather_unavailable", "message": "Weather provider is not configured",
		})
	}))
	defer cleanup()

	result, err := h.HandleWeatherAdvice(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not configured")
}

func TestNewMCPServer(t *testing.T) {
	s := NewMCPServer(Config{APIURL: "http://localhost:8080", Token: "t"})
	require.NotNil(t, s)
}
