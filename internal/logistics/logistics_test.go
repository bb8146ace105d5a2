package logistics

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mbd888/krishiconnect/internal/auth"
	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeMilestones struct {
	milestones map[string]string   // milestone -> contract
	parties    map[string][]string // contract -> users
}

func newFakeMilestones() *fakeMilestones {
	return &fakeMilestones{
		milestones: map[string]string{"mst_1": "ctr_1", "mst_2": "ctr_1"},
		parties:    map[string][]string{"ctr_1": {"usr_buyer", "usr_farmer"}},
	}
}

func (f *fakeMilestones) GetMilestone(ctx context.Context, actor contracts.Actor, id string) (*contracts.Milestone, error) {
	contractID, ok := f.milestones[id]
	if !ok {
		return nil, contracts.ErrMilestoneNotFound
	}
	if ok, _ := f.IsParty(ctx, contractID, actor.UserID); !ok {
		return nil, contracts.ErrNotAuthorized
	}
	return &contracts.Milestone{ID: id, ContractID: contractID}, nil
}

func (f *fakeMilestones) IsParty(_ context.Context, contractID, userID string) (bool, error) {
	for _, u := range f.parties[contractID] {
		if u == userID {
			return true, nil
		}
	}
	return false, nil
}

// clock is a settable test clock.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

var (
	buyer    = contracts.Actor{UserID: "usr_buyer", Party: contracts.PartyBuyer}
	farmer   = contracts.Actor{UserID: "usr_farmer", Party: contracts.PartyFarmer}
	outsider = contracts.Actor{UserID: "usr_outsider", Party: contracts.PartyBuyer}

	trip = QuoteRequest{PickupAddress: "Village Khanna, Ludhiana", DropoffAddress: "APMC Yard, Azadpur, Delhi", VehicleType: "Eicher 14ft"}
)

func newTestService() (*Service, *MemoryStore, *clock) {
	store := NewMemoryStore()
	clk := &clock{now: time.Date(2026, 10, 1, 9, 0, 0, 0, time.UTC)}
	svc := NewService(store, NewSimulated(), newFakeMilestones()).WithClock(clk.Now)
	return svc, store, clk
}

func TestStatusAt(t *testing.T) {
	tests := []struct {
		elapsed time.Duration
		want    Status
	}{
		{0, StatusBooked},
		{5 * time.Minute, StatusBooked},
		{5*time.Minute + time.Second, StatusInTransit},
		{15 * time.Minute, StatusInTransit},
		{16 * time.Minute, StatusOutForDelivery},
		{30 * time.Minute, StatusOutForDelivery},
		{31 * time.Minute, StatusDelivered},
		{48 * time.Hour, StatusDelivered},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, StatusAt(tt.elapsed), "elapsed %s", tt.elapsed)
	}
}

func TestQuote(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	q, err := svc.Quote(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)
	assert.Equal(t, "4500.00", q.EstimatedCost)
	assert.True(t, strings.HasPrefix(q.QuoteID, "sim_quote_"))

	small := trip
	small.VehicleType = "TATA Ace Gold"
	q, err = svc.Quote(ctx, buyer, "mst_1", small)
	require.NoError(t, err)
	assert.Equal(t, "2500.00", q.EstimatedCost)

	_, err = svc.Quote(ctx, outsider, "mst_1", trip)
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	_, err = svc.Quote(ctx, farmer, "mst_missing", trip)
	assert.ErrorIs(t, err, contracts.ErrMilestoneNotFound)

	_, err = svc.Quote(ctx, farmer, "mst_1", QuoteRequest{PickupAddress: "x"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestBook_OnePerMilestone(t *testing.T) {
	svc, _, _ := newTestService()
	ctx := context.Background()

	sh, err := svc.Book(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)
	assert.Equal(t, "ctr_1", sh.ContractID)
	assert.Equal(t, StatusBooked, sh.Status)
	assert.Equal(t, "4500.00", sh.EstimatedCost)
	assert.True(t, strings.HasPrefix(sh.BookingID, "KCB_"))
	assert.True(t, strings.HasSuffix(sh.TrackingURL, sh.BookingID))

	_, err = svc.Book(ctx, buyer, "mst_1", trip)
	assert.ErrorIs(t, err, ErrAlreadyBooked)

	_, err = svc.Book(ctx, buyer, "mst_2", trip)
	require.NoError(t, err)

	list, err := svc.ForContract(ctx, buyer, "ctr_1")
	require.NoError(t, err)
	assert.Len(t, list, 2)

	_, err = svc.ForContract(ctx, outsider, "ctr_1")
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)
}

func TestTrack_AdvancesWithTime(t *testing.T) {
	svc, store, clk := newTestService()
	ctx := context.Background()

	sh, err := svc.Book(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)

	clk.Advance(6 * time.Minute)
	got, err := svc.Track(ctx, buyer, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, got.Status)

	stored, err := store.GetShipment(ctx, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusInTransit, stored.Status)

	clk.Advance(30 * time.Minute)
	got, err = svc.Track(ctx, farmer, sh.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusDelivered, got.Status)

	_, err = svc.Track(ctx, outsider, sh.ID)
	assert.ErrorIs(t, err, contracts.ErrNotAuthorized)

	_, err = svc.Track(ctx, farmer, "shp_missing")
	assert.ErrorIs(t, err, ErrShipmentNotFound)
}

func TestCancel_OnlyWhileBooked(t *testing.T) {
	svc, _, clk := newTestService()
	ctx := context.Background()

	sh, err := svc.Book(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)
	require.NoError(t, svc.Cancel(ctx, buyer, sh.ID))

	// The milestone is free again.
	sh, err = svc.Book(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)

	clk.Advance(10 * time.Minute)
	err = svc.Cancel(ctx, farmer, sh.ID)
	assert.ErrorIs(t, err, ErrCannotCancel)
	assert.Contains(t, err.Error(), string(StatusInTransit))
}

func TestRefreshActive(t *testing.T) {
	svc, store, clk := newTestService()
	ctx := context.Background()

	first, err := svc.Book(ctx, farmer, "mst_1", trip)
	require.NoError(t, err)
	clk.Advance(20 * time.Minute)
	second, err := svc.Book(ctx, farmer, "mst_2", trip)
	require.NoError(t, err)

	changed, err := svc.RefreshActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, changed)

	got, _ := store.GetShipment(ctx, first.ID)
	assert.Equal(t, StatusOutForDelivery, got.Status)
	got, _ = store.GetShipment(ctx, second.ID)
	assert.Equal(t, StatusBooked, got.Status)

	clk.Advance(time.Hour)
	changed, err = svc.RefreshActive(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, changed)

	active, err := store.ListActive(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestHandlers(t *testing.T) {
	svc, _, clk := newTestService()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(auth.ContextKeyUserID, c.GetHeader("X-Test-User"))
		c.Set(auth.ContextKeyRole, c.GetHeader("X-Test-Role"))
		c.Next()
	})
	NewHandler(svc).RegisterProtectedRoutes(r.Group("/v1"))

	do := func(actor contracts.Actor, method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("X-Test-User", actor.UserID)
		req.Header.Set("X-Test-Role", string(actor.Party))
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}
	body := `{"pickupAddress":"Khanna","dropoffAddress":"Azadpur","vehicleType":"Tata Ace"}`

	w := do(farmer, "POST", "/v1/milestones/mst_1/quote", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"estimatedCost":"2500.00"`)

	w = do(farmer, "POST", "/v1/milestones/mst_1/shipment", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var booked struct {
		Shipment Shipment `json:"shipment"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &booked))

	w = do(buyer, "POST", "/v1/milestones/mst_1/shipment", body)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(outsider, "GET", "/v1/shipments/"+booked.Shipment.ID, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = do(buyer, "POST", "/v1/milestones/mst_1/quote", `{"vehicleType":"truck"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	clk.Advance(7 * time.Minute)
	w = do(buyer, "GET", "/v1/shipments/"+booked.Shipment.ID, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"In Transit"`)

	w = do(buyer, "DELETE", "/v1/shipments/"+booked.Shipment.ID, "")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = do(buyer, "GET", "/v1/shipments/shp_missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
