// Package logistics books transport for milestone deliveries.
//
// A milestone may carry at most one shipment. Parties quote a trip, book it,
// track its progress and cancel it while the truck has not left. The default
// provider is simulated: status advances with time since booking.
package logistics

import (
	"context"
	"errors"
	"time"
)

var (
	ErrShipmentNotFound = errors.New("shipment not found")
	ErrAlreadyBooked    = errors.New("a shipment is already booked for this milestone")
	ErrCannotCancel     = errors.New("shipment can no longer be cancelled")
	ErrInvalidRequest   = errors.New("pickup address, dropoff address and vehicle type are required")
)

// Status is a shipment's progress.
type Status string

const (
	StatusBooked         Status = "Booked"
	StatusInTransit      Status = "In Transit"
	StatusOutForDelivery Status = "Out for Delivery"
	StatusDelivered      Status = "Delivered"
)

// IsFinal reports whether the shipment has reached its destination.
func (s Status) IsFinal() bool {
	return s == StatusDelivered
}

// QuoteRequest describes a trip to price.
type QuoteRequest struct {
	PickupAddress  string `json:"pickupAddress"`
	DropoffAddress string `json:"dropoffAddress"`
	VehicleType    string `json:"vehicleType"`
}

// Quote is a provider's price for a trip.
type Quote struct {
	QuoteID       string `json:"quoteId"`
	EstimatedCost string `json:"estimatedCost"`
	Provider      string `json:"logisticsProvider"`
	VehicleType   string `json:"vehicleType"`
}

// Booking is a provider's confirmation of a quoted trip.
type Booking struct {
	BookingID   string `json:"bookingId"`
	Status      Status `json:"status"`
	TrackingURL string `json:"trackingUrl"`
}

// Shipment is a booked trip carrying one milestone's produce.
type Shipment struct {
	ID            string    `json:"id"`
	ContractID    string    `json:"contractId"`
	MilestoneID   string    `json:"milestoneId"`
	Provider      string    `json:"logisticsProvider"`
	VehicleType   string    `json:"vehicleType"`
	BookingID     string    `json:"bookingId"`
	Status        Status    `json:"status"`
	EstimatedCost string    `json:"estimatedCost"`
	TrackingURL   string    `json:"trackingUrl"`
	BookedAt      time.Time `json:"bookedAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

// Provider is a transport marketplace.
type Provider interface {
	Quote(ctx context.Context, req QuoteRequest) (*Quote, error)
	Book(ctx context.Context, q *Quote) (*Booking, error)
	Track(ctx context.Context, s *Shipment, now time.Time) (Status, error)
}

// Store persists shipments.
type Store interface {
	CreateShipment(ctx context.Context, s *Shipment) error
	GetShipment(ctx context.Context, id string) (*Shipment, error)
	ShipmentForMilestone(ctx context.Context, milestoneID string) (*Shipment, error)
	ListByContract(ctx context.Context, contractID string) ([]*Shipment, error)
	ListActive(ctx context.Context, limit int) ([]*Shipment, error)
	UpdateStatus(ctx context.Context, id string, status Status, at time.Time) error
	DeleteShipment(ctx context.Context, id string) error
}
