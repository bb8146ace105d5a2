package contracts

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/krishiconnect/internal/advisory"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/metrics"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/negotiation"
	"github.com/mbd888/krishiconnect/internal/syncutil"
	"github.com/mbd888/krishiconnect/internal/traces"
)

// Service implements contract business logic.
type Service struct {
	store      Store
	escrow     *escrow.Service
	advisor    Advisor
	publisher  Publisher
	notifier   Notifier
	directory  Directory
	locks      syncutil.ContextShardedMutex // per-contract serialization
	background sync.WaitGroup               // contract summaries
	logger     *slog.Logger
}

// NewService creates a new contract service.
func NewService(store Store, escrowSvc *escrow.Service) *Service {
	return &Service{
		store:   store,
		escrow:  escrowSvc,
		advisor: advisory.NewService(nil, nil, nil),
		logger:  slog.Default(),
	}
}

// WithAdvisor sets the advisory side channel. Without one every advisory
// answer is a placeholder.
func (s *Service) WithAdvisor(a Advisor) *Service {
	if a != nil {
		s.advisor = a
	}
	return s
}

// WithPublisher sets the negotiation event publisher.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithNotifier sets the user notifier.
func (s *Service) WithNotifier(n Notifier) *Service {
	s.notifier = n
	return s
}

// WithDirectory sets the display-name lookup used for summaries.
func (s *Service) WithDirectory(d Directory) *Service {
	s.directory = d
	return s
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// Propose creates a new proposal on an active listing. No funds move.
func (s *Service) Propose(ctx context.Context, actor Actor, req ProposeRequest) (*Contract, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.Propose", traces.UserID(actor.UserID))
	defer span.End()

	if actor.Party != PartyBuyer {
		return nil, ErrNotAuthorized
	}
	qty, price, err := parseTerms(req.Quantity, req.PricePerUnit)
	if err != nil {
		return nil, err
	}
	if req.PaymentTerms == "" {
		req.PaymentTerms = TermsFinal
	}
	if !req.PaymentTerms.Valid() {
		return nil, fmt.Errorf("%w: unknown payment terms %q", ErrInvalidTransition, req.PaymentTerms)
	}

	now := time.Now().UTC()
	contract := &Contract{
		ID:                 idgen.WithPrefix(idgen.Contract),
		ListingID:          req.ListingID,
		BuyerID:            actor.UserID,
		QuantityProposed:   qty,
		PricePerUnitAgreed: price,
		Status:             StatusPendingFarmerApproval,
		PaymentTerms:       req.PaymentTerms,
		LastOfferBy:        PartyBuyer,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	err = s.store.InContractTx(ctx, func(tx Tx) error {
		listing, err := tx.LockListing(ctx, req.ListingID)
		if err != nil {
			return err
		}
		if !listing.IsActive() {
			return ErrListingClosed
		}
		if listing.FarmerID == actor.UserID {
			return ErrNotAuthorized
		}
		contract.FarmerID = listing.FarmerID
		return tx.CreateContract(ctx, contract)
	})
	if err != nil {
		return nil, err
	}

	metrics.ContractsProposedTotal.WithLabelValues(string(contract.PaymentTerms)).Inc()
	s.logger.Info("contract proposed",
		"contractId", contract.ID,
		"listingId", contract.ListingID,
		"buyerId", contract.BuyerID,
		"totalValue", contract.TotalValue(),
	)
	s.notify(ctx, contract.FarmerID, "New contract proposal",
		fmt.Sprintf("A buyer proposed %s at %s per unit on your listing.", contract.QuantityProposed, contract.PricePerUnitAgreed))
	return contract, nil
}

// Counter replaces the terms on the table with the actor's offer.
func (s *Service) Counter(ctx context.Context, actor Actor, id string, req CounterRequest) (*Contract, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.Counter", traces.ContractID(id), traces.UserID(actor.UserID))
	defer span.End()

	qty, price, err := parseTerms(req.Quantity, req.PricePerUnit)
	if err != nil {
		return nil, err
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var from Status
	var contract *Contract
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if err := c.authorize(actor); err != nil {
			return err
		}
		if !c.InNegotiation() {
			return ErrInvalidTransition
		}
		ms, err := tx.ContractMilestones(ctx, id)
		if err != nil {
			return err
		}
		if len(ms) > 0 {
			return fmt.Errorf("%w: terms are fixed once milestones are defined", ErrInvalidTransition)
		}

		from = c.Status
		c.QuantityProposed = qty
		c.PricePerUnitAgreed = price
		c.LastOfferBy = actor.Party
		c.Status = StatusNegotiating
		c.UpdatedAt = time.Now().UTC()
		contract = c
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	recordTransition(from, contract.Status)
	s.publish(ctx, negotiation.Event{
		Type:         negotiation.EventOffer,
		ContractID:   contract.ID,
		SenderID:     actor.UserID,
		SenderRole:   string(actor.Party),
		Quantity:     contract.QuantityProposed,
		PricePerUnit: contract.PricePerUnitAgreed,
		TotalValue:   contract.TotalValue(),
		Status:       string(contract.Status),
	})
	s.notify(ctx, counterparty(contract, actor.Party), "Counter offer received",
		fmt.Sprintf("New terms: %s at %s per unit (total %s).", contract.QuantityProposed, contract.PricePerUnitAgreed, contract.TotalValue()))
	return contract, nil
}

// Accept locks the agreed total into escrow, starts the contract and closes
// the listing. All of it commits together or not at all. The contract
// summary is written in the background after the lock is released.
func (s *Service) Accept(ctx context.Context, actor Actor, id string) (*Contract, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.Accept", traces.ContractID(id), traces.UserID(actor.UserID))
	defer span.End()

	contract, from, held, err := s.accept(ctx, actor, id)
	if err != nil {
		return nil, err
	}

	recordTransition(from, contract.Status)
	metrics.EscrowHeldTotal.Add(money.MustParse(held).InexactFloat64())
	s.logger.Info("contract accepted",
		"contractId", contract.ID,
		"acceptedBy", actor.Party,
		"escrow", held,
	)

	s.publish(ctx, statusEvent(negotiation.EventAccepted, contract, actor))
	s.notify(ctx, counterparty(contract, actor.Party), "Contract accepted",
		fmt.Sprintf("Contract %s is now ongoing. %s is held in escrow.", contract.ID, held))

	snapshot := *contract
	bg := context.WithoutCancel(ctx)
	s.background.Go(func() { s.summarize(bg, &snapshot) })
	return contract, nil
}

// Wait blocks until background summaries have been stored.
func (s *Service) Wait() {
	s.background.Wait()
}

func (s *Service) accept(ctx context.Context, actor Actor, id string) (*Contract, Status, string, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, "", "", err
	}
	defer unlock()

	var from Status
	var contract *Contract
	var held string
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if err := c.authorize(actor); err != nil {
			return err
		}
		if !c.InNegotiation() {
			return ErrInvalidTransition
		}
		if c.LastOfferBy == actor.Party {
			return fmt.Errorf("%w: cannot accept your own offer", ErrInvalidTransition)
		}

		listing, err := tx.LockListing(ctx, c.ListingID)
		if err != nil {
			return err
		}
		if !listing.IsActive() {
			return ErrListingClosed
		}

		total := c.TotalValue()
		if _, err := ledger.Debit(ctx, tx, ledger.Posting{
			UserID:     c.BuyerID,
			Amount:     total,
			Kind:       ledger.KindEscrow,
			ContractID: c.ID,
			Reference:  escrowReference(c.ID),
		}); err != nil {
			return fmt.Errorf("failed to hold escrow: %w", err)
		}
		held = total

		now := time.Now().UTC()
		from = c.Status
		c.Status = StatusOngoing
		c.UpdatedAt = now
		if err := tx.UpdateContract(ctx, c); err != nil {
			return err
		}

		listing.Status = listings.StatusClosed
		listing.UpdatedAt = now
		if err := tx.SaveListing(ctx, listing); err != nil {
			return err
		}
		contract = c
		return nil
	})
	if err != nil {
		return nil, "", "", err
	}
	return contract, from, held, nil
}

// Reject ends negotiation at the receiving party's request.
func (s *Service) Reject(ctx context.Context, actor Actor, id string) (*Contract, error) {
	contract, from, err := s.endNegotiation(ctx, actor, id, StatusRejected, func(c *Contract) error {
		if c.LastOfferBy == actor.Party {
			return fmt.Errorf("%w: cannot reject your own offer", ErrInvalidTransition)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordTransition(from, contract.Status)
	s.publish(ctx, statusEvent(negotiation.EventRejected, contract, actor))
	s.notify(ctx, counterparty(contract, actor.Party), "Contract rejected",
		fmt.Sprintf("Contract %s was rejected.", contract.ID))
	return contract, nil
}

// Cancel withdraws the buyer's proposal before acceptance.
func (s *Service) Cancel(ctx context.Context, actor Actor, id string) (*Contract, error) {
	contract, from, err := s.endNegotiation(ctx, actor, id, StatusCancelled, func(c *Contract) error {
		if actor.Party != PartyBuyer {
			return ErrNotAuthorized
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	recordTransition(from, contract.Status)
	s.publish(ctx, statusEvent(negotiation.EventCancelled, contract, actor))
	s.notify(ctx, contract.FarmerID, "Proposal withdrawn",
		fmt.Sprintf("The buyer withdrew proposal %s.", contract.ID))
	return contract, nil
}

func (s *Service) endNegotiation(ctx context.Context, actor Actor, id string, to Status, guard func(*Contract) error) (*Contract, Status, error) {
	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, "", err
	}
	defer unlock()

	var from Status
	var contract *Contract
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if err := c.authorize(actor); err != nil {
			return err
		}
		if err := guard(c); err != nil {
			return err
		}
		if !c.InNegotiation() {
			return ErrInvalidTransition
		}
		from = c.Status
		c.Status = to
		c.UpdatedAt = time.Now().UTC()
		contract = c
		return tx.UpdateContract(ctx, c)
	})
	return contract, from, err
}

// Complete finishes an ongoing contract and pays the farmer whatever is left
// in escrow. Milestone contracts may only complete once every milestone is
// paid.
func (s *Service) Complete(ctx context.Context, actor Actor, id string) (*Contract, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.Complete", traces.ContractID(id), traces.UserID(actor.UserID))
	defer span.End()

	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}

	unlock, err := s.locks.LockContext(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var contract *Contract
	var released string
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, id)
		if err != nil {
			return err
		}
		if err := c.authorize(actor); err != nil {
			return err
		}
		if c.Status != StatusOngoing {
			return ErrInvalidTransition
		}
		if c.PaymentTerms == TermsMilestone {
			ms, err := tx.ContractMilestones(ctx, id)
			if err != nil {
				return err
			}
			for _, m := range ms {
				if !m.PaymentReleased {
					return fmt.Errorf("%w: milestone %q is unpaid", ErrInvalidTransition, m.Name)
				}
			}
		}

		released, err = s.drainEscrow(ctx, tx, c)
		if err != nil {
			return err
		}
		c.Status = StatusCompleted
		c.UpdatedAt = time.Now().UTC()
		contract = c
		return tx.UpdateContract(ctx, c)
	})
	if err != nil {
		return nil, err
	}

	recordTransition(StatusOngoing, StatusCompleted)
	s.logger.Info("contract completed", "contractId", id, "released", released)
	s.publish(ctx, statusEvent(negotiation.EventCompleted, contract, actor))
	s.notify(ctx, contract.BuyerID, "Contract completed",
		fmt.Sprintf("Contract %s is complete. %s was released to the farmer.", id, released))
	return contract, nil
}

// drainEscrow releases everything still held for c to its farmer.
func (s *Service) drainEscrow(ctx context.Context, tx Tx, c *Contract) (string, error) {
	f, err := financialsIn(ctx, tx, c)
	if err != nil {
		return "", err
	}
	remaining := f.Escrow()
	if !remaining.IsPositive() {
		return money.Format(money.Zero), nil
	}
	amount := money.Format(remaining)
	if _, err := ledger.Credit(ctx, tx, ledger.Posting{
		UserID:     c.FarmerID,
		Amount:     amount,
		Kind:       ledger.KindRelease,
		ContractID: c.ID,
	}); err != nil {
		return "", fmt.Errorf("failed to release escrow: %w", err)
	}
	metrics.EscrowReleasedTotal.Add(remaining.InexactFloat64())
	return amount, nil
}

// Get returns a contract visible to its parties.
func (s *Service) Get(ctx context.Context, actor Actor, id string) (*Contract, error) {
	c, err := s.store.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(actor); err != nil {
		return nil, err
	}
	return c, nil
}

// IsParty reports whether userID is the buyer or farmer of the contract.
func (s *Service) IsParty(ctx context.Context, contractID, userID string) (bool, error) {
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return c.PartyOf(userID) != "", nil
}

// ListForUser returns the actor's contracts, optionally by status.
func (s *Service) ListForUser(ctx context.Context, actor Actor, status Status, limit int) ([]*Contract, error) {
	f := Filter{UserID: actor.UserID, Limit: clampLimit(limit)}
	if status != "" {
		f.Statuses = []Status{status}
	}
	return s.store.ListContracts(ctx, f)
}

// PendingForFarmer returns offers waiting on the farmer's answer.
func (s *Service) PendingForFarmer(ctx context.Context, actor Actor) ([]*Contract, error) {
	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}
	return s.store.ListContracts(ctx, Filter{
		FarmerID:    actor.UserID,
		Statuses:    []Status{StatusPendingFarmerApproval, StatusNegotiating},
		LastOfferBy: PartyBuyer,
		Limit:       200,
	})
}

// SentPendingForBuyer returns the buyer's offers still awaiting a reply.
func (s *Service) SentPendingForBuyer(ctx context.Context, actor Actor) ([]*Contract, error) {
	if actor.Party != PartyBuyer {
		return nil, ErrNotAuthorized
	}
	return s.store.ListContracts(ctx, Filter{
		BuyerID:     actor.UserID,
		Statuses:    []Status{StatusPendingFarmerApproval, StatusNegotiating},
		LastOfferBy: PartyBuyer,
		Limit:       200,
	})
}

// ProposalsForListing returns open proposals on a listing the actor owns.
func (s *Service) ProposalsForListing(ctx context.Context, actor Actor, listingID string) ([]*Contract, error) {
	if _, err := s.ownedListing(ctx, actor, listingID); err != nil {
		return nil, err
	}
	return s.store.ListContracts(ctx, Filter{
		ListingID: listingID,
		Statuses:  []Status{StatusPendingFarmerApproval, StatusNegotiating},
		Limit:     200,
	})
}

// AnalyzeProposals recommends one of the open proposals on a listing.
// Returns nil when there are none.
func (s *Service) AnalyzeProposals(ctx context.Context, actor Actor, listingID string) (*advisory.ProposalAnalysis, error) {
	listing, err := s.ownedListing(ctx, actor, listingID)
	if err != nil {
		return nil, err
	}
	proposals, err := s.store.ListContracts(ctx, Filter{
		ListingID: listingID,
		Statuses:  []Status{StatusPendingFarmerApproval, StatusNegotiating},
		Limit:     200,
	})
	if err != nil {
		return nil, err
	}
	if len(proposals) == 0 {
		return nil, nil
	}
	briefs := make([]advisory.ProposalBrief, 0, len(proposals))
	for _, c := range proposals {
		briefs = append(briefs, advisory.ProposalBrief{
			ContractID:   c.ID,
			BuyerID:      c.BuyerID,
			Quantity:     c.QuantityProposed,
			PricePerUnit: c.PricePerUnitAgreed,
			TotalValue:   c.TotalValue(),
			PaymentTerms: string(c.PaymentTerms),
		})
	}
	return s.advisor.AnalyzeProposals(ctx, listing.Brief(), briefs), nil
}

func (s *Service) ownedListing(ctx context.Context, actor Actor, listingID string) (*listings.Listing, error) {
	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}
	l, err := s.store.GetListing(ctx, listingID)
	if err != nil {
		return nil, err
	}
	if l.FarmerID != actor.UserID {
		return nil, ErrNotAuthorized
	}
	return l, nil
}

// Financials returns the contract's money position to its parties.
func (s *Service) Financials(ctx context.Context, actor Actor, id string) (*escrow.Financials, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.escrow.Financials(ctx, id)
}

// Dashboard bundles a contract with its financials and milestones.
func (s *Service) Dashboard(ctx context.Context, actor Actor, id string) (*Dashboard, error) {
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	f, err := s.escrow.Financials(ctx, id)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListMilestones(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Dashboard{Contract: c, Financials: f, Milestones: ms}, nil
}

// ComplianceCheck asks the advisor for guidance on an ongoing contract.
// Only the farmer may request it.
func (s *Service) ComplianceCheck(ctx context.Context, actor Actor, id string) (*advisory.Advice, error) {
	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}
	c, err := s.Get(ctx, actor, id)
	if err != nil {
		return nil, err
	}
	f, err := s.escrow.Financials(ctx, id)
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListMilestones(ctx, id)
	if err != nil {
		return nil, err
	}

	snap := advisory.Snapshot{
		ContractID:     c.ID,
		CropType:       s.cropOf(ctx, c),
		Status:         string(c.Status),
		TotalValue:     f.TotalValue,
		AmountPaid:     f.AmountPaid,
		EscrowAmount:   f.EscrowAmount,
		RemainingToPay: f.RemainingToPay,
		LatestNotes:    latestNotes(ms),
	}
	return s.advisor.ComplianceAdvice(ctx, snap)
}

// Advice lists stored compliance advice for a contract's parties.
func (s *Service) Advice(ctx context.Context, actor Actor, id string, limit int) ([]*advisory.Advice, error) {
	if _, err := s.Get(ctx, actor, id); err != nil {
		return nil, err
	}
	return s.advisor.ListAdvice(ctx, id, limit)
}

// summarize writes the plain-language summary after acceptance. Failures
// only cost the summary.
func (s *Service) summarize(ctx context.Context, c *Contract) {
	brief := advisory.ContractBrief{
		ContractID:   c.ID,
		Quantity:     c.QuantityProposed,
		PricePerUnit: c.PricePerUnitAgreed,
		TotalValue:   c.TotalValue(),
		PaymentTerms: string(c.PaymentTerms),
	}
	if l, err := s.store.GetListing(ctx, c.ListingID); err == nil {
		brief.CropType = l.CropType
		brief.Unit = l.Unit
	}
	if s.directory != nil {
		brief.BuyerName = s.directory.FullName(ctx, c.BuyerID)
		brief.FarmerName = s.directory.FullName(ctx, c.FarmerID)
	}
	summary := s.advisor.SummarizeContract(ctx, brief)
	if err := s.store.SetContractSummary(ctx, c.ID, summary); err != nil {
		s.logger.Warn("failed to store contract summary", "contractId", c.ID, "error", err)
	}
}

func (s *Service) cropOf(ctx context.Context, c *Contract) string {
	l, err := s.store.GetListing(ctx, c.ListingID)
	if err != nil {
		return ""
	}
	return l.CropType
}

func (s *Service) publish(ctx context.Context, e negotiation.Event) {
	if s.publisher == nil {
		return
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if err := s.publisher.Publish(ctx, e); err != nil {
		s.logger.Warn("negotiation publish failed", "contractId", e.ContractID, "type", e.Type, "error", err)
	}
}

func (s *Service) notify(ctx context.Context, userID, subject, body string) {
	if s.notifier == nil || userID == "" {
		return
	}
	s.notifier.Notify(ctx, userID, subject, body)
}

// financialsIn computes escrow from inside a unit of work.
func financialsIn(ctx context.Context, tx Tx, c *Contract) (*escrow.Financials, error) {
	txns, err := tx.ContractTransactions(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return escrow.Compute(c.ID, c.Terms(), txns)
}

func parseTerms(quantity, price string) (string, string, error) {
	q, err := money.ParseQuantity(quantity)
	if err != nil || !q.IsPositive() {
		return "", "", fmt.Errorf("%w: quantity must be a positive number with at most 3 decimals", ErrInvalidAmount)
	}
	p, err := money.ParsePositive(price)
	if err != nil {
		return "", "", fmt.Errorf("%w: price must be a positive amount with at most 2 decimals", ErrInvalidAmount)
	}
	if !money.InRange(money.Total(q, p)) {
		return "", "", fmt.Errorf("%w: total value exceeds %s", ErrInvalidAmount, money.Format(money.MaxAmount))
	}
	return money.FormatQuantity(q), money.Format(p), nil
}

func escrowReference(contractID string) string {
	return "escrow:" + contractID
}

func counterparty(c *Contract, p Party) string {
	if p == PartyBuyer {
		return c.FarmerID
	}
	return c.BuyerID
}

func statusEvent(t negotiation.EventType, c *Contract, actor Actor) negotiation.Event {
	return negotiation.Event{
		Type:         t,
		ContractID:   c.ID,
		SenderID:     actor.UserID,
		SenderRole:   string(actor.Party),
		Quantity:     c.QuantityProposed,
		PricePerUnit: c.PricePerUnitAgreed,
		TotalValue:   c.TotalValue(),
		Status:       string(c.Status),
	}
}

func recordTransition(from, to Status) {
	metrics.ContractTransitionsTotal.WithLabelValues(string(from), string(to)).Inc()
}

func latestNotes(ms []*Milestone) string {
	for i := len(ms) - 1; i >= 0; i-- {
		m := ms[i]
		if m.UpdateText == "" && m.AINotes == "" {
			continue
		}
		notes := m.Name + ": " + m.UpdateText
		if m.AINotes != "" {
			notes += " (image notes: " + m.AINotes + ")"
		}
		return notes
	}
	return ""
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 50
	}
	if limit > 200 {
		return 200
	}
	return limit
}
