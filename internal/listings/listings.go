// Package listings manages farmers' crop listings.
//
// A listing is active until a contract made against it is accepted, at
// which point the contract engine closes it in the same unit of work.
package listings

import (
	"context"
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("listing not found")
	ErrNotOwner = errors.New("listing belongs to another farmer")
	ErrClosed   = errors.New("listing is closed")

	ErrInvalidDate = errors.New("harvest date must be YYYY-MM-DD")
)

// Status represents the state of a listing.
type Status string

const (
	StatusActive Status = "active"
	StatusClosed Status = "closed"
)

// DefaultTemplate is recommended when no advisory answer is available.
const DefaultTemplate = "Simple Supply Contract"

// Listing is a crop offered for contract farming.
type Listing struct {
	ID                   string    `json:"id"`
	FarmerID             string    `json:"farmerId"`
	CropType             string    `json:"cropType"`
	Quantity             string    `json:"quantity"`
	Unit                 string    `json:"unit"`
	ExpectedPricePerUnit string    `json:"expectedPricePerUnit"`
	HarvestDate          string    `json:"harvestDate"` // YYYY-MM-DD
	Location             string    `json:"location"`
	FarmingPractice      string    `json:"farmingPractice,omitempty"`
	SoilType             string    `json:"soilType,omitempty"`
	IrrigationSource     string    `json:"irrigationSource,omitempty"`
	ImageURL             string    `json:"imageUrl,omitempty"`
	Status               Status    `json:"status"`
	RecommendedTemplate  string    `json:"recommendedTemplate,omitempty"`
	RecommendationReason string    `json:"recommendationReason,omitempty"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// IsActive reports whether the listing still accepts proposals.
func (l *Listing) IsActive() bool {
	return l.Status == StatusActive
}

// ViewFor returns the listing as seen by viewerID. Only the owner sees the
// contract template recommendation.
func (l *Listing) ViewFor(viewerID string) *Listing {
	cp := *l
	if viewerID != l.FarmerID {
		cp.RecommendedTemplate = ""
		cp.RecommendationReason = ""
	}
	return &cp
}

// Filter narrows ListListings. CropType and Location are case-insensitive
// substring matches.
type Filter struct {
	Status   Status
	FarmerID string
	CropType string
	Location string
	Limit    int
}

// Store persists listings.
type Store interface {
	CreateListing(ctx context.Context, l *Listing) error
	GetListing(ctx context.Context, id string) (*Listing, error)
	UpdateListing(ctx context.Context, l *Listing) error
	ListListings(ctx context.Context, f Filter) ([]*Listing, error)
}
