package logistics

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
)

const (
	simulatedProvider = "KrishiConnect Logistics (Simulated)"
	trackingBaseURL   = "https://krishiconnect.example.com/track/"

	defaultCost = "4500.00"
	smallCost   = "2500.00" // light commercial vehicles
)

// Progress thresholds since booking.
const (
	InTransitAfter      = 5 * time.Minute
	OutForDeliveryAfter = 15 * time.Minute
	DeliveredAfter      = 30 * time.Minute
)

// Simulated returns well-formed answers without calling a real provider.
type Simulated struct{}

// NewSimulated creates the simulated provider.
func NewSimulated() *Simulated {
	return &Simulated{}
}

// Quote prices a trip: 2500.00 for a Tata Ace, 4500.00 for anything else.
func (Simulated) Quote(_ context.Context, req QuoteRequest) (*Quote, error) {
	cost := defaultCost
	if strings.Contains(strings.ToLower(req.VehicleType), "tata ace") {
		cost = smallCost
	}
	return &Quote{
		QuoteID:       "sim_quote_" + shortID(),
		EstimatedCost: cost,
		Provider:      simulatedProvider,
		VehicleType:   req.VehicleType,
	}, nil
}

// Book confirms a quote.
func (Simulated) Book(_ context.Context, q *Quote) (*Booking, error) {
	id := "KCB_" + strings.TrimPrefix(q.QuoteID, "sim_quote_")
	return &Booking{
		BookingID:   id,
		Status:      StatusBooked,
		TrackingURL: trackingBaseURL + id,
	}, nil
}

// Track derives the status from time elapsed since booking.
func (Simulated) Track(_ context.Context, s *Shipment, now time.Time) (Status, error) {
	return StatusAt(now.Sub(s.BookedAt)), nil
}

// StatusAt maps time since booking to the simulated status.
func StatusAt(elapsed time.Duration) Status {
	switch {
	case elapsed > DeliveredAfter:
		return StatusDelivered
	case elapsed > OutForDeliveryAfter:
		return StatusOutForDelivery
	case elapsed > InTransitAfter:
		return StatusInTransit
	default:
		return StatusBooked
	}
}

func shortID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")[:12]
}
