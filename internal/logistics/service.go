package logistics

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/traces"
)

// Milestones resolves milestones and contract parties. contracts.Service
// implements it.
type Milestones interface {
	GetMilestone(ctx context.Context, actor contracts.Actor, milestoneID string) (*contracts.Milestone, error)
	IsParty(ctx context.Context, contractID, userID string) (bool, error)
}

// Service implements shipment booking and tracking.
type Service struct {
	store      Store
	provider   Provider
	milestones Milestones
	now        func() time.Time
	logger     *slog.Logger
}

// NewService creates a logistics service.
func NewService(store Store, provider Provider, milestones Milestones) *Service {
	return &Service{
		store:      store,
		provider:   provider,
		milestones: milestones,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     slog.Default(),
	}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// WithClock replaces the clock used for tracking.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Quote prices a trip for a milestone the actor is party to.
func (s *Service) Quote(ctx context.Context, actor contracts.Actor, milestoneID string, req QuoteRequest) (*Quote, error) {
	if _, err := s.milestones.GetMilestone(ctx, actor, milestoneID); err != nil {
		return nil, err
	}
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	return s.provider.Quote(ctx, req)
}

// Book quotes and books transport for a milestone. A milestone carries at
// most one shipment.
func (s *Service) Book(ctx context.Context, actor contracts.Actor, milestoneID string, req QuoteRequest) (*Shipment, error) {
	ctx, span := traces.StartSpan(ctx, "logistics.Book", traces.UserID(actor.UserID))
	defer span.End()

	m, err := s.milestones.GetMilestone(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	if err := checkRequest(req); err != nil {
		return nil, err
	}
	if existing, err := s.store.ShipmentForMilestone(ctx, milestoneID); err == nil && existing != nil {
		return nil, ErrAlreadyBooked
	}

	q, err := s.provider.Quote(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("quote: %w", err)
	}
	b, err := s.provider.Book(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("book: %w", err)
	}

	now := s.now()
	sh := &Shipment{
		ID:            idgen.WithPrefix(idgen.Shipment),
		ContractID:    m.ContractID,
		MilestoneID:   m.ID,
		Provider:      q.Provider,
		VehicleType:   q.VehicleType,
		BookingID:     b.BookingID,
		Status:        b.Status,
		EstimatedCost: q.EstimatedCost,
		TrackingURL:   b.TrackingURL,
		BookedAt:      now,
		UpdatedAt:     now,
	}
	if err := s.store.CreateShipment(ctx, sh); err != nil {
		return nil, err
	}

	s.logger.Info("shipment booked",
		"shipmentId", sh.ID, "milestoneId", m.ID, "contractId", m.ContractID,
		"bookingId", sh.BookingID, "cost", sh.EstimatedCost)
	return sh, nil
}

// Track returns the shipment with its current status, persisting any change.
func (s *Service) Track(ctx context.Context, actor contracts.Actor, shipmentID string) (*Shipment, error) {
	sh, err := s.authorized(ctx, actor, shipmentID)
	if err != nil {
		return nil, err
	}
	if err := s.refresh(ctx, sh); err != nil {
		return nil, err
	}
	return sh, nil
}

// Cancel removes a shipment that has not left yet. The milestone may be
// booked again afterwards.
func (s *Service) Cancel(ctx context.Context, actor contracts.Actor, shipmentID string) error {
	sh, err := s.authorized(ctx, actor, shipmentID)
	if err != nil {
		return err
	}
	if err := s.refresh(ctx, sh); err != nil {
		return err
	}
	if sh.Status != StatusBooked {
		return fmt.Errorf("%w: shipment is already %s", ErrCannotCancel, sh.Status)
	}
	if err := s.store.DeleteShipment(ctx, sh.ID); err != nil {
		return err
	}
	s.logger.Info("shipment cancelled", "shipmentId", sh.ID, "milestoneId", sh.MilestoneID)
	return nil
}

// ForContract lists a contract's shipments.
func (s *Service) ForContract(ctx context.Context, actor contracts.Actor, contractID string) ([]*Shipment, error) {
	ok, err := s.milestones.IsParty(ctx, contractID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.ErrNotAuthorized
	}
	return s.store.ListByContract(ctx, contractID)
}

// RefreshActive re-tracks every shipment that has not been delivered and
// returns how many changed status.
func (s *Service) RefreshActive(ctx context.Context) (int, error) {
	active, err := s.store.ListActive(ctx, 1000)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, sh := range active {
		before := sh.Status
		if err := s.refresh(ctx, sh); err != nil {
			s.logger.Warn("shipment refresh failed", "shipmentId", sh.ID, "error", err)
			continue
		}
		if sh.Status != before {
			changed++
		}
	}
	return changed, nil
}

func (s *Service) authorized(ctx context.Context, actor contracts.Actor, shipmentID string) (*Shipment, error) {
	sh, err := s.store.GetShipment(ctx, shipmentID)
	if err != nil {
		return nil, err
	}
	ok, err := s.milestones.IsParty(ctx, sh.ContractID, actor.UserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, contracts.ErrNotAuthorized
	}
	return sh, nil
}

func (s *Service) refresh(ctx context.Context, sh *Shipment) error {
	status, err := s.provider.Track(ctx, sh, s.now())
	if err != nil {
		return fmt.Errorf("track: %w", err)
	}
	if status == sh.Status {
		return nil
	}
	now := s.now()
	if err := s.store.UpdateStatus(ctx, sh.ID, status, now); err != nil {
		return err
	}
	s.logger.Info("shipment status changed", "shipmentId", sh.ID, "from", sh.Status, "to", status)
	sh.Status = status
	sh.UpdatedAt = now
	return nil
}

func checkRequest(req QuoteRequest) error {
	if strings.TrimSpace(req.PickupAddress) == "" || strings.TrimSpace(req.DropoffAddress) == "" || strings.TrimSpace(req.VehicleType) == "" {
		return ErrInvalidRequest
	}
	return nil
}
