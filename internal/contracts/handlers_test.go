package contracts_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/contracts"
)

// setupRouter authenticates requests from X-Test-User / X-Test-Role headers.
func setupRouter(f *fixture) *gin.Engine {
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
	contracts.NewHandler(f.svc).RegisterProtectedRoutes(v1)
	return r
}

func do(t *testing.T, r *gin.Engine, actor contracts.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor.UserID != "" {
		req.Header.Set("X-Test-User", actor.UserID)
		req.Header.Set("X-Test-Role", string(actor.Party))
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Error string `json:"error"`
	}
	decode(t, w, &resp)
	return resp.Error
}

type contractResponse struct {
	Contract struct {
		ID          string `json:"id"`
		Status      string `json:"status"`
		LastOfferBy string `json:"lastOfferBy"`
		TotalValue  string `json:"totalValue"`
	} `json:"contract"`
}

func TestHandler_NegotiateAndAccept(t *testing.T) {
	f := newFixture(t, "10000.00")
	r := setupRouter(f)

	w := do(t, r, buyer, "POST", "/v1/contracts", map[string]string{
		"listingId":          "lst_wheat",
		"quantityProposed":   "100",
		"pricePerUnitAgreed": "50.00",
		"paymentTerms":       "final",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("propose: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var proposed contractResponse
	decode(t, w, &proposed)
	id := proposed.Contract.ID
	if proposed.Contract.TotalValue != "5000.00" {
		t.Errorf("expected totalValue 5000.00, got %q", proposed.Contract.TotalValue)
	}

	w = do(t, r, farmer, "GET", "/v1/contracts/pending", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("pending: expected 200, got %d", w.Code)
	}
	var pending struct {
		Count int `json:"count"`
	}
	decode(t, w, &pending)
	if pending.Count != 1 {
		t.Errorf("expected 1 pending, got %d", pending.Count)
	}

	w = do(t, r, buyer, "POST", "/v1/contracts/"+id+"/counter", map[string]string{
		"quantityProposed": "100", "pricePerUnitAgreed": "45.00",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("counter: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, buyer, "POST", "/v1/contracts/"+id+"/accept", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "invalid_state" {
		t.Fatalf("own offer accept: expected 409 invalid_state, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, farmer, "POST", "/v1/contracts/"+id+"/accept", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("accept: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var accepted contractResponse
	decode(t, w, &accepted)
	if accepted.Contract.Status != "ongoing" {
		t.Errorf("expected ongoing, got %q", accepted.Contract.Status)
	}

	w = do(t, r, buyer, "GET", "/v1/contracts/"+id+"/financials", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("financials: expected 200, got %d", w.Code)
	}
	var fin struct {
		Financials struct {
			EscrowAmount string `json:"escrowAmount"`
		} `json:"financials"`
	}
	decode(t, w, &fin)
	if fin.Financials.EscrowAmount != "4500.00" {
		t.Errorf("expected escrow 4500.00, got %q", fin.Financials.EscrowAmount)
	}
}

func TestHandler_InsufficientFunds(t *testing.T) {
	f := newFixture(t, "100.00")
	r := setupRouter(f)
	c := f.propose(t, "100", "50.00", contracts.TermsFinal)

	w := do(t, r, farmer, "POST", "/v1/contracts/"+c.ID+"/accept", nil)
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d: %s", w.Code, w.Body.String())
	}
	if code := errorCode(t, w); code != "insufficient_funds" {
		t.Errorf("expected insufficient_funds, got %q", code)
	}
}

func TestHandler_RoleAndPartyGuards(t *testing.T) {
	f := newFixture(t, "10000.00")
	r := setupRouter(f)
	c := f.propose(t, "100", "50.00", contracts.TermsFinal)

	// Farmers cannot propose.
	w := do(t, r, farmer, "POST", "/v1/contracts", map[string]string{
		"listingId": "lst_wheat", "quantityProposed": "1", "pricePerUnitAgreed": "1.00",
	})
	if w.Code != http.StatusForbidden {
		t.Errorf("farmer propose: expected 403, got %d", w.Code)
	}

	outsider := contracts.Actor{UserID: "usr_outsider", Party: contracts.PartyBuyer}
	w = do(t, r, outsider, "GET", "/v1/contracts/"+c.ID, nil)
	if w.Code != http.StatusForbidden || errorCode(t, w) != "forbidden" {
		t.Errorf("outsider get: expected 403 forbidden, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, buyer, "GET", "/v1/contracts/ctr_missing", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("missing: expected 404, got %d", w.Code)
	}

	w = do(t, r, contracts.Actor{}, "GET", "/v1/contracts", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous: expected 401, got %d", w.Code)
	}
}

func TestHandler_ProposeValidation(t *testing.T) {
	f := newFixture(t, "")
	r := setupRouter(f)

	cases := []map[string]string{
		{"listingId": "lst_wheat", "quantityProposed": "0", "pricePerUnitAgreed": "1.00"},
		{"listingId": "lst_wheat", "quantityProposed": "1", "pricePerUnitAgreed": "1.001"},
		{"listingId": "lst_wheat", "quantityProposed": "1", "pricePerUnitAgreed": "1.00", "paymentTerms": "weekly"},
		{"quantityProposed": "1", "pricePerUnitAgreed": "1.00"},
	}
	for _, body := range cases {
		w := do(t, r, buyer, "POST", "/v1/contracts", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("body %v: expected 400, got %d: %s", body, w.Code, w.Body.String())
		}
	}
}

func TestHandler_MilestoneFlow(t *testing.T) {
	f := newFixture(t, "1000.00")
	r := setupRouter(f)
	c := ongoingMilestoneContract(t, f, "20", "50.00")

	w := do(t, r, buyer, "POST", "/v1/contracts/"+c.ID+"/milestones", map[string]any{
		"milestones": []map[string]string{
			{"name": "Sowing", "amount": "400.00"},
			{"name": "Harvest", "amount": "600.00"},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("define: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var defined struct {
		Milestones []struct {
			ID string `json:"id"`
		} `json:"milestones"`
	}
	decode(t, w, &defined)
	if len(defined.Milestones) != 2 {
		t.Fatalf("expected 2 milestones, got %d", len(defined.Milestones))
	}
	first := defined.Milestones[0].ID

	w = do(t, r, buyer, "POST", "/v1/milestones/"+first+"/release", nil)
	if w.Code != http.StatusConflict {
		t.Errorf("release before complete: expected 409, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, farmer, "POST", "/v1/milestones/"+first+"/complete", map[string]string{})
	if w.Code != http.StatusBadRequest {
		t.Errorf("complete without evidence: expected 400, got %d", w.Code)
	}

	w = do(t, r, farmer, "POST", "/v1/milestones/"+first+"/complete", map[string]string{"updateText": "Seeds sown across 4 acres"})
	if w.Code != http.StatusOK {
		t.Fatalf("complete: expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, buyer, "POST", "/v1/milestones/"+first+"/release", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("release: expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var released struct {
		Amount string `json:"amountReleased"`
		Final  bool   `json:"final"`
	}
	decode(t, w, &released)
	if released.Amount != "400.00" || released.Final {
		t.Errorf("expected 400.00 non-final, got %+v", released)
	}

	w = do(t, r, buyer, "POST", "/v1/milestones/"+first+"/release", nil)
	if w.Code != http.StatusConflict || errorCode(t, w) != "invalid_state" {
		t.Errorf("second release: expected 409 invalid_state, got %d: %s", w.Code, w.Body.String())
	}

	w = do(t, r, farmer, "GET", "/v1/contracts/"+c.ID+"/dashboard", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("dashboard: expected 200, got %d", w.Code)
	}
	var dash struct {
		Financials struct {
			EscrowAmount string `json:"escrowAmount"`
			AmountPaid   string `json:"amountPaid"`
		} `json:"financials"`
		Milestones []json.RawMessage `json:"milestones"`
	}
	decode(t, w, &dash)
	if dash.Financials.EscrowAmount != "600.00" || dash.Financials.AmountPaid != "400.00" {
		t.Errorf("unexpected financials %+v", dash.Financials)
	}
	if len(dash.Milestones) != 2 {
		t.Errorf("expected 2 milestones on dashboard, got %d", len(dash.Milestones))
	}
}

func TestHandler_DefineMilestonesOverTotal(t *testing.T) {
	f := newFixture(t, "1000.00")
	r := setupRouter(f)
	c := ongoingMilestoneContract(t, f, "20", "50.00")

	w := do(t, r, buyer, "POST", "/v1/contracts/"+c.ID+"/milestones", map[string]any{
		"milestones": []map[string]string{{"name": "All of it and more", "amount": "1000.01"}},
	})
	if w.Code != http.StatusBadRequest || errorCode(t, w) != "validation_error" {
		t.Errorf("expected 400 validation_error, got %d: %s", w.Code, w.Body.String())
	}
}

func TestHandler_ProposalAnalysis(t *testing.T) {
	f := newFixture(t, "")
	r := setupRouter(f)

	w := do(t, r, farmer, "GET", "/v1/listings/lst_wheat/proposals/analysis", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var empty struct {
		Analysis *json.RawMessage `json:"analysis"`
	}
	decode(t, w, &empty)
	if empty.Analysis != nil {
		t.Errorf("expected null analysis, got %s", string(*empty.Analysis))
	}

	best := f.propose(t, "100", "50.00", contracts.TermsFinal)
	w = do(t, r, farmer, "GET", "/v1/listings/lst_wheat/proposals/analysis", nil)
	var resp struct {
		Analysis struct {
			BestProposalID string `json:"bestProposalId"`
		} `json:"analysis"`
	}
	decode(t, w, &resp)
	if resp.Analysis.BestProposalID != best.ID {
		t.Errorf("expected %s, got %s", best.ID, resp.Analysis.BestProposalID)
	}

	w = do(t, r, buyer, "GET", "/v1/listings/lst_wheat/proposals", nil)
	if w.Code != http.StatusForbidden {
		t.Errorf("buyer proposals: expected 403, got %d", w.Code)
	}
}
