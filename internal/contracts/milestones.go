package contracts

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/metrics"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/negotiation"
	"github.com/mbd888/krishiconnect/internal/traces"
	"github.com/shopspring/decimal"
)

// DefineMilestones appends payout stages to a milestone-terms contract.
// The stages together may not exceed the contract value.
func (s *Service) DefineMilestones(ctx context.Context, actor Actor, contractID string, inputs []MilestoneInput) ([]*Milestone, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.DefineMilestones", traces.ContractID(contractID))
	defer span.End()

	if actor.Party != PartyBuyer {
		return nil, ErrNotAuthorized
	}
	if len(inputs) == 0 {
		return nil, fmt.Errorf("%w: at least one milestone is required", ErrInvalidAmount)
	}
	amounts := make([]decimal.Decimal, len(inputs))
	for i, in := range inputs {
		if strings.TrimSpace(in.Name) == "" {
			return nil, fmt.Errorf("%w: milestone %d has no name", ErrInvalidAmount, i+1)
		}
		a, err := money.Parse(in.Amount)
		if err != nil {
			return nil, fmt.Errorf("%w: milestone %q amount %q", ErrInvalidAmount, in.Name, in.Amount)
		}
		amounts[i] = a
	}

	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var created []*Milestone
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if err := c.authorize(actor); err != nil {
			return err
		}
		if c.PaymentTerms != TermsMilestone {
			return fmt.Errorf("%w: contract uses %s payment terms", ErrInvalidTransition, c.PaymentTerms)
		}
		if c.IsTerminal() {
			return ErrInvalidTransition
		}

		existing, err := tx.ContractMilestones(ctx, contractID)
		if err != nil {
			return err
		}
		sum := decimal.Zero
		for _, m := range existing {
			sum = sum.Add(money.MustParse(m.Amount))
		}
		for _, a := range amounts {
			sum = sum.Add(a)
		}
		if sum.GreaterThan(c.Total()) {
			return fmt.Errorf("%w: milestones total %s exceeds contract value %s", ErrInvalidAmount, money.Format(sum), c.TotalValue())
		}

		now := time.Now().UTC()
		for i, in := range inputs {
			m := &Milestone{
				ID:         idgen.WithPrefix(idgen.Milestone),
				ContractID: contractID,
				Name:       strings.TrimSpace(in.Name),
				Amount:     money.Format(amounts[i]),
				Seq:        len(existing) + i + 1,
				CreatedAt:  now,
				UpdatedAt:  now,
			}
			if err := tx.CreateMilestone(ctx, m); err != nil {
				return err
			}
			created = append(created, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("milestones defined", "contractId", contractID, "count", len(created))
	return created, nil
}

// SubmitProgress records a progress report on a final-terms contract. The
// report is stored as a completed zero-amount milestone.
func (s *Service) SubmitProgress(ctx context.Context, actor Actor, contractID string, req EvidenceRequest) (*Milestone, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.SubmitProgress", traces.ContractID(contractID))
	defer span.End()

	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}
	c, err := s.store.GetContract(ctx, contractID)
	if err != nil {
		return nil, err
	}
	if err := c.authorize(actor); err != nil {
		return nil, err
	}
	if c.PaymentTerms != TermsFinal || c.Status != StatusOngoing {
		return nil, ErrInvalidTransition
	}

	// Annotation runs before any lock is taken; it can be slow.
	notes := s.advisor.AnnotateImage(ctx, req.ImageURL)

	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var m *Milestone
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c.PaymentTerms != TermsFinal {
			return fmt.Errorf("%w: milestone contracts report progress on their milestones", ErrInvalidTransition)
		}
		if c.Status != StatusOngoing {
			return ErrInvalidTransition
		}
		existing, err := tx.ContractMilestones(ctx, contractID)
		if err != nil {
			return err
		}

		name := strings.TrimSpace(req.Name)
		if name == "" {
			name = "Progress update " + strconv.Itoa(len(existing)+1)
		}
		now := time.Now().UTC()
		m = &Milestone{
			ID:         idgen.WithPrefix(idgen.Milestone),
			ContractID: contractID,
			Name:       name,
			Amount:     money.Format(money.Zero),
			Seq:        len(existing) + 1,
			IsComplete: true,
			UpdateText: req.UpdateText,
			ImageURL:   req.ImageURL,
			AINotes:    notes,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		return tx.CreateMilestone(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, milestoneEvent(c, m, actor, "progress"))
	s.notify(ctx, c.BuyerID, "Progress update", fmt.Sprintf("The farmer posted %q on contract %s.", m.Name, contractID))
	return m, nil
}

// MarkComplete records the farmer's evidence that a milestone is done.
func (s *Service) MarkComplete(ctx context.Context, actor Actor, milestoneID string, req EvidenceRequest) (*Milestone, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.MarkComplete", traces.MilestoneID(milestoneID))
	defer span.End()

	if actor.Party != PartyFarmer {
		return nil, ErrNotAuthorized
	}
	current, c, err := s.milestoneFor(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	if current.IsComplete {
		return nil, ErrAlreadyComplete
	}

	notes := s.advisor.AnnotateImage(ctx, req.ImageURL)

	unlock, err := s.locks.LockContext(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var m *Milestone
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, current.ContractID)
		if err != nil {
			return err
		}
		if c.PaymentTerms != TermsMilestone {
			return ErrInvalidTransition
		}
		if c.Status != StatusOngoing {
			return ErrInvalidTransition
		}
		m, err = tx.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		if m.IsComplete {
			return ErrAlreadyComplete
		}
		m.IsComplete = true
		m.UpdateText = req.UpdateText
		m.ImageURL = req.ImageURL
		m.AINotes = notes
		m.UpdatedAt = time.Now().UTC()
		return tx.UpdateMilestone(ctx, m)
	})
	if err != nil {
		return nil, err
	}

	s.publish(ctx, milestoneEvent(c, m, actor, "complete"))
	s.notify(ctx, c.BuyerID, "Milestone complete",
		fmt.Sprintf("The farmer marked %q complete. Release %s when satisfied.", m.Name, m.Amount))
	return m, nil
}

// ReleasePayment pays out a completed milestone. The last outstanding
// milestone releases everything left in escrow and completes the contract.
func (s *Service) ReleasePayment(ctx context.Context, actor Actor, milestoneID string) (*ReleaseResult, error) {
	ctx, span := traces.StartSpan(ctx, "contracts.ReleasePayment", traces.MilestoneID(milestoneID))
	defer span.End()

	if actor.Party != PartyBuyer {
		return nil, ErrNotAuthorized
	}
	current, _, err := s.milestoneFor(ctx, actor, milestoneID)
	if err != nil {
		return nil, err
	}
	contractID := current.ContractID

	unlock, err := s.locks.LockContext(ctx, contractID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	result := &ReleaseResult{}
	err = s.store.InContractTx(ctx, func(tx Tx) error {
		c, err := tx.LockContract(ctx, contractID)
		if err != nil {
			return err
		}
		if c.PaymentTerms != TermsMilestone || c.Status != StatusOngoing {
			return ErrInvalidTransition
		}
		m, err := tx.LockMilestone(ctx, milestoneID)
		if err != nil {
			return err
		}
		if !m.IsComplete {
			return ErrNotComplete
		}
		if m.PaymentReleased {
			return ErrAlreadyReleased
		}

		all, err := tx.ContractMilestones(ctx, contractID)
		if err != nil {
			return err
		}
		outstanding := 0
		for _, other := range all {
			if other.ID != m.ID && !other.PaymentReleased {
				outstanding++
			}
		}

		now := time.Now().UTC()
		if outstanding == 0 {
			released, err := s.drainEscrow(ctx, tx, c)
			if err != nil {
				return err
			}
			c.Status = StatusCompleted
			c.UpdatedAt = now
			if err := tx.UpdateContract(ctx, c); err != nil {
				return err
			}
			result.Amount = released
			result.Final = true
		} else {
			amount := money.MustParse(m.Amount)
			if amount.IsPositive() {
				f, err := financialsIn(ctx, tx, c)
				if err != nil {
					return err
				}
				if f.Escrow().LessThan(amount) {
					return fmt.Errorf("%w: %s held, %s requested", ErrInsufficientEscrow, f.EscrowAmount, m.Amount)
				}
				if _, err := ledger.Credit(ctx, tx, ledger.Posting{
					UserID:     c.FarmerID,
					Amount:     m.Amount,
					Kind:       ledger.KindRelease,
					ContractID: c.ID,
				}); err != nil {
					return fmt.Errorf("failed to release milestone: %w", err)
				}
				metrics.EscrowReleasedTotal.Add(amount.InexactFloat64())
			}
			result.Amount = money.Format(amount)
		}

		m.PaymentReleased = true
		m.UpdatedAt = now
		if err := tx.UpdateMilestone(ctx, m); err != nil {
			return err
		}
		result.Milestone = m
		result.Contract = c
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.MilestoneReleasesTotal.WithLabelValues(strconv.FormatBool(result.Final)).Inc()
	s.logger.Info("milestone payment released",
		"contractId", contractID,
		"milestoneId", milestoneID,
		"amount", result.Amount,
		"final", result.Final,
	)

	c := result.Contract
	s.publish(ctx, milestoneEvent(c, result.Milestone, actor, "released"))
	s.notify(ctx, c.FarmerID, "Payment released",
		fmt.Sprintf("%s was released for %q.", result.Amount, result.Milestone.Name))
	if result.Final {
		recordTransition(StatusOngoing, StatusCompleted)
		s.publish(ctx, statusEvent(negotiation.EventCompleted, c, actor))
	}
	return result, nil
}

// ListMilestones returns a contract's milestones to its parties.
func (s *Service) ListMilestones(ctx context.Context, actor Actor, contractID string) ([]*Milestone, error) {
	if _, err := s.Get(ctx, actor, contractID); err != nil {
		return nil, err
	}
	return s.store.ListMilestones(ctx, contractID)
}

// GetMilestone returns one milestone to the contract's parties.
func (s *Service) GetMilestone(ctx context.Context, actor Actor, milestoneID string) (*Milestone, error) {
	m, _, err := s.milestoneFor(ctx, actor, milestoneID)
	return m, err
}

func (s *Service) milestoneFor(ctx context.Context, actor Actor, milestoneID string) (*Milestone, *Contract, error) {
	m, err := s.store.GetMilestone(ctx, milestoneID)
	if err != nil {
		return nil, nil, err
	}
	c, err := s.store.GetContract(ctx, m.ContractID)
	if err != nil {
		return nil, nil, err
	}
	if err := c.authorize(actor); err != nil {
		return nil, nil, err
	}
	return m, c, nil
}

func milestoneEvent(c *Contract, m *Milestone, actor Actor, what string) negotiation.Event {
	return negotiation.Event{
		Type:        negotiation.EventMilestone,
		ContractID:  c.ID,
		SenderID:    actor.UserID,
		SenderRole:  string(actor.Party),
		MilestoneID: m.ID,
		Status:      what,
		Message:     m.Name,
	}
}
