package listings

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/krishiconnect/internal/advisory"
	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/money"
)

// Recommender suggests a contract template for a new listing.
type Recommender interface {
	RecommendTemplate(ctx context.Context, l advisory.ListingBrief) advisory.TemplateRecommendation
}

// CreateRequest is the body of POST /v1/listings.
type CreateRequest struct {
	CropType             string `json:"cropType"`
	Quantity             string `json:"quantity"`
	Unit                 string `json:"unit"`
	ExpectedPricePerUnit string `json:"expectedPricePerUnit"`
	HarvestDate          string `json:"harvestDate"`
	Location             string `json:"location"`
	FarmingPractice      string `json:"farmingPractice"`
	SoilType             string `json:"soilType"`
	IrrigationSource     string `json:"irrigationSource"`
	ImageURL             string `json:"imageUrl"`
}

// UpdateRequest is the body of PUT /v1/listings/:id. Nil fields are left alone.
type UpdateRequest struct {
	CropType             *string `json:"cropType"`
	Quantity             *string `json:"quantity"`
	Unit                 *string `json:"unit"`
	ExpectedPricePerUnit *string `json:"expectedPricePerUnit"`
	HarvestDate          *string `json:"harvestDate"`
	Location             *string `json:"location"`
	FarmingPractice      *string `json:"farmingPractice"`
	SoilType             *string `json:"soilType"`
	IrrigationSource     *string `json:"irrigationSource"`
	ImageURL             *string `json:"imageUrl"`
}

// Service implements listing business logic.
type Service struct {
	store       Store
	recommender Recommender
	logger      *slog.Logger
}

// NewService creates a listing service. recommender may be nil.
func NewService(store Store, recommender Recommender) *Service {
	return &Service{store: store, recommender: recommender, logger: slog.Default()}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Create publishes a new active listing for farmerID.
func (s *Service) Create(ctx context.Context, farmerID string, req CreateRequest) (*Listing, error) {
	qty, err := money.ParseQuantity(req.Quantity)
	if err != nil || !qty.IsPositive() {
		return nil, fmt.Errorf("%w: quantity", money.ErrInvalidQuantity)
	}
	price, err := money.ParsePositive(req.ExpectedPricePerUnit)
	if err != nil {
		return nil, err
	}
	if err := checkDate(req.HarvestDate); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	l := &Listing{
		ID:                   idgen.WithPrefix(idgen.Listing),
		FarmerID:             farmerID,
		CropType:             strings.TrimSpace(req.CropType),
		Quantity:             money.FormatQuantity(qty),
		Unit:                 strings.TrimSpace(req.Unit),
		ExpectedPricePerUnit: money.Format(price),
		HarvestDate:          req.HarvestDate,
		Location:             strings.TrimSpace(req.Location),
		FarmingPractice:      req.FarmingPractice,
		SoilType:             req.SoilType,
		IrrigationSource:     req.IrrigationSource,
		ImageURL:             req.ImageURL,
		Status:               StatusActive,
		RecommendedTemplate:  DefaultTemplate,
		CreatedAt:            now,
		UpdatedAt:            now,
	}

	if s.recommender != nil {
		rec := s.recommender.RecommendTemplate(ctx, l.Brief())
		if rec.TemplateName != "" {
			l.RecommendedTemplate = rec.TemplateName
		}
		l.RecommendationReason = rec.Reason
	}

	if err := s.store.CreateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to create listing: %w", err)
	}

	s.logger.Info("listing created", "listingId", l.ID, "farmerId", farmerID, "crop", l.CropType, "template", l.RecommendedTemplate)
	return l, nil
}

// Update changes a listing's details. Only the owning farmer may update,
// and closed listings are frozen.
func (s *Service) Update(ctx context.Context, farmerID, id string, req UpdateRequest) (*Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	if l.FarmerID != farmerID {
		return nil, ErrNotOwner
	}
	if !l.IsActive() {
		return nil, ErrClosed
	}

	if req.Quantity != nil {
		qty, err := money.ParseQuantity(*req.Quantity)
		if err != nil || !qty.IsPositive() {
			return nil, fmt.Errorf("%w: quantity", money.ErrInvalidQuantity)
		}
		l.Quantity = money.FormatQuantity(qty)
	}
	if req.ExpectedPricePerUnit != nil {
		price, err := money.ParsePositive(*req.ExpectedPricePerUnit)
		if err != nil {
			return nil, err
		}
		l.ExpectedPricePerUnit = money.Format(price)
	}
	if req.HarvestDate != nil {
		if err := checkDate(*req.HarvestDate); err != nil {
			return nil, err
		}
		l.HarvestDate = *req.HarvestDate
	}
	setIf(&l.CropType, req.CropType)
	setIf(&l.Unit, req.Unit)
	setIf(&l.Location, req.Location)
	setIf(&l.FarmingPractice, req.FarmingPractice)
	setIf(&l.SoilType, req.SoilType)
	setIf(&l.IrrigationSource, req.IrrigationSource)
	setIf(&l.ImageURL, req.ImageURL)
	l.UpdatedAt = time.Now().UTC()

	if err := s.store.UpdateListing(ctx, l); err != nil {
		return nil, fmt.Errorf("failed to update listing: %w", err)
	}
	return l, nil
}

// Get returns a listing as seen by viewerID.
func (s *Service) Get(ctx context.Context, viewerID, id string) (*Listing, error) {
	l, err := s.store.GetListing(ctx, id)
	if err != nil {
		return nil, err
	}
	return l.ViewFor(viewerID), nil
}

// List returns listings matching f as seen by viewerID. An empty status
// filter means active listings only.
func (s *Service) List(ctx context.Context, viewerID string, f Filter) ([]*Listing, error) {
	if f.Status == "" {
		f.Status = StatusActive
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 100
	}
	result, err := s.store.ListListings(ctx, f)
	if err != nil {
		return nil, err
	}
	for i, l := range result {
		result[i] = l.ViewFor(viewerID)
	}
	return result, nil
}

// Brief is the listing as the advisory prompts see it.
func (l *Listing) Brief() advisory.ListingBrief {
	return advisory.ListingBrief{
		CropType:             l.CropType,
		Quantity:             l.Quantity,
		Unit:                 l.Unit,
		ExpectedPricePerUnit: l.ExpectedPricePerUnit,
		FarmingPractice:      l.FarmingPractice,
		Location:             l.Location,
		SoilType:             l.SoilType,
	}
}

// Matches reports whether l passes the filter. Stores without query
// support filter with it.
func (f Filter) Matches(l *Listing) bool {
	if f.Status != "" && l.Status != f.Status {
		return false
	}
	if f.FarmerID != "" && l.FarmerID != f.FarmerID {
		return false
	}
	if f.CropType != "" && !containsFold(l.CropType, f.CropType) {
		return false
	}
	if f.Location != "" && !containsFold(l.Location, f.Location) {
		return false
	}
	return true
}

func checkDate(s string) error {
	if _, err := time.Parse(time.DateOnly, s); err != nil {
		return ErrInvalidDate
	}
	return nil
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func setIf(dst *string, v *string) {
	if v != nil {
		*dst = strings.TrimSpace(*v)
	}
}
