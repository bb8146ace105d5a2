// Package contracts runs the contract-farming agreement lifecycle between a
// buyer and a farmer, and the milestone payouts that settle it.
//
// Flow:
//  1. Buyer proposes against an active listing → status: pending_farmer_approval
//  2. Either party counters (quantity, price) → status: negotiating
//  3. The party who did not make the last offer accepts → buyer's total is
//     debited into escrow, the listing closes → status: ongoing
//  4. Milestone terms: farmer marks milestones complete, buyer releases each
//     payout; the last outstanding release drains escrow → status: completed
//  5. Final terms: farmer posts progress updates, then completes the
//     contract and receives the whole escrow → status: completed
//  6. Reject (receiving party) or cancel (buyer) ends negotiation without
//     moving money
//
// Every state change that touches money happens inside one unit of work
// together with its ledger postings.
package contracts

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/krishiconnect/internal/advisory"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/negotiation"
	"github.com/shopspring/decimal"
)

var (
	ErrNotFound           = errors.New("contract not found")
	ErrMilestoneNotFound  = errors.New("milestone not found")
	ErrNotAuthorized      = errors.New("not authorized for this contract operation")
	ErrInvalidTransition  = errors.New("invalid contract status for this operation")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrAlreadyComplete    = errors.New("milestone already marked complete")
	ErrAlreadyReleased    = errors.New("milestone payment already released")
	ErrInsufficientEscrow = errors.New("insufficient escrow for milestone payment")

	ErrNotComplete   = fmt.Errorf("%w: milestone not marked complete", ErrInvalidTransition)
	ErrListingClosed = fmt.Errorf("%w: listing is not active", ErrInvalidTransition)
)

// Status represents the state of a contract.
type Status string

const (
	StatusPendingFarmerApproval Status = "pending_farmer_approval"
	StatusNegotiating           Status = "negotiating"
	StatusAccepted              Status = "accepted" // never entered; acceptance goes straight to ongoing
	StatusOngoing               Status = "ongoing"
	StatusCompleted             Status = "completed"
	StatusRejected              Status = "rejected"
	StatusCancelled             Status = "cancelled"
)

// PaymentTerms decides how escrow is paid out.
type PaymentTerms string

const (
	TermsFinal     PaymentTerms = "final"
	TermsMilestone PaymentTerms = "milestone"
)

// Valid reports whether t is a known payment scheme.
func (t PaymentTerms) Valid() bool {
	return t == TermsFinal || t == TermsMilestone
}

// Party is the side of a contract an actor is on.
type Party string

const (
	PartyBuyer  Party = "buyer"
	PartyFarmer Party = "farmer"
)

// Actor is the authenticated user performing an operation.
type Actor struct {
	UserID string
	Party  Party
}

// Contract is an agreement to supply a quantity of a listed crop at a price.
type Contract struct {
	ID                 string       `json:"id"`
	ListingID          string       `json:"listingId"`
	BuyerID            string       `json:"buyerId"`
	FarmerID           string       `json:"farmerId"`
	QuantityProposed   string       `json:"quantityProposed"`
	PricePerUnitAgreed string       `json:"pricePerUnitAgreed"`
	Status             Status       `json:"status"`
	PaymentTerms       PaymentTerms `json:"paymentTerms"`
	LastOfferBy        Party        `json:"lastOfferBy"`
	Summary            string       `json:"summary,omitempty"`
	CreatedAt          time.Time    `json:"createdAt"`
	UpdatedAt          time.Time    `json:"updatedAt"`
}

// Total returns quantity x price rounded to two places.
func (c *Contract) Total() decimal.Decimal {
	t, err := c.Terms().Total()
	if err != nil {
		return decimal.Zero
	}
	return t
}

// TotalValue is Total in canonical string form.
func (c *Contract) TotalValue() string {
	return money.Format(c.Total())
}

// Terms returns the escrow inputs of the contract.
func (c *Contract) Terms() escrow.Terms {
	return escrow.Terms{Quantity: c.QuantityProposed, PricePerUnit: c.PricePerUnitAgreed}
}

// MarshalJSON adds the computed total value.
func (c *Contract) MarshalJSON() ([]byte, error) {
	type alias Contract
	return json.Marshal(struct {
		*alias
		TotalValue string `json:"totalValue"`
	}{(*alias)(c), c.TotalValue()})
}

// IsTerminal returns true if the contract is in a final state.
func (c *Contract) IsTerminal() bool {
	switch c.Status {
	case StatusCompleted, StatusRejected, StatusCancelled:
		return true
	}
	return false
}

// InNegotiation reports whether terms may still change.
func (c *Contract) InNegotiation() bool {
	return c.Status == StatusPendingFarmerApproval || c.Status == StatusNegotiating
}

// PartyOf returns the side userID is on, or "" for outsiders.
func (c *Contract) PartyOf(userID string) Party {
	switch userID {
	case c.BuyerID:
		return PartyBuyer
	case c.FarmerID:
		return PartyFarmer
	}
	return ""
}

// authorize checks that actor is on the side it claims.
func (c *Contract) authorize(a Actor) error {
	if a.UserID == "" || c.PartyOf(a.UserID) != a.Party {
		return ErrNotAuthorized
	}
	return nil
}

// Milestone is a payout stage of a contract, or a progress report on a
// final-terms contract (amount zero).
type Milestone struct {
	ID              string    `json:"id"`
	ContractID      string    `json:"contractId"`
	Name            string    `json:"name"`
	Amount          string    `json:"amount"`
	Seq             int       `json:"seq"`
	IsComplete      bool      `json:"isComplete"`
	PaymentReleased bool      `json:"paymentReleased"`
	UpdateText      string    `json:"updateText,omitempty"`
	ImageURL        string    `json:"imageUrl,omitempty"`
	AINotes         string    `json:"aiNotes,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Filter narrows ListContracts. Empty fields match everything.
type Filter struct {
	BuyerID     string
	FarmerID    string
	UserID      string // buyer or farmer
	ListingID   string
	Statuses    []Status
	LastOfferBy Party
	Limit       int
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c *Contract) bool {
	if f.BuyerID != "" && c.BuyerID != f.BuyerID {
		return false
	}
	if f.FarmerID != "" && c.FarmerID != f.FarmerID {
		return false
	}
	if f.UserID != "" && c.BuyerID != f.UserID && c.FarmerID != f.UserID {
		return false
	}
	if f.ListingID != "" && c.ListingID != f.ListingID {
		return false
	}
	if f.LastOfferBy != "" && c.LastOfferBy != f.LastOfferBy {
		return false
	}
	if len(f.Statuses) > 0 {
		for _, s := range f.Statuses {
			if c.Status == s {
				return true
			}
		}
		return false
	}
	return true
}

// Tx is a unit of work spanning contracts, milestones, listings and wallets.
// Lock methods hold the row until the unit of work ends. Callers lock in the
// order contract, milestone, listing, wallet.
type Tx interface {
	ledger.Tx

	CreateContract(ctx context.Context, c *Contract) error
	LockContract(ctx context.Context, id string) (*Contract, error)
	UpdateContract(ctx context.Context, c *Contract) error

	CreateMilestone(ctx context.Context, m *Milestone) error
	LockMilestone(ctx context.Context, id string) (*Milestone, error)
	UpdateMilestone(ctx context.Context, m *Milestone) error
	ContractMilestones(ctx context.Context, contractID string) ([]*Milestone, error)

	LockListing(ctx context.Context, id string) (*listings.Listing, error)
	SaveListing(ctx context.Context, l *listings.Listing) error

	ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error)
}

// Store persists contracts and milestones.
type Store interface {
	GetContract(ctx context.Context, id string) (*Contract, error)
	ListContracts(ctx context.Context, f Filter) ([]*Contract, error)
	SetContractSummary(ctx context.Context, id, summary string) error
	GetMilestone(ctx context.Context, id string) (*Milestone, error)
	ListMilestones(ctx context.Context, contractID string) ([]*Milestone, error)
	GetListing(ctx context.Context, id string) (*listings.Listing, error)
	InContractTx(ctx context.Context, fn func(Tx) error) error
}

// Publisher broadcasts negotiation events. Failures never undo a commit.
type Publisher interface {
	Publish(ctx context.Context, e negotiation.Event) error
}

// Advisor is the advisory side channel. Its methods never fail a contract
// operation.
type Advisor interface {
	AnnotateImage(ctx context.Context, imageURL string) string
	SummarizeContract(ctx context.Context, b advisory.ContractBrief) string
	ComplianceAdvice(ctx context.Context, snap advisory.Snapshot) (*advisory.Advice, error)
	ListAdvice(ctx context.Context, contractID string, limit int) ([]*advisory.Advice, error)
	AnalyzeProposals(ctx context.Context, l advisory.ListingBrief, proposals []advisory.ProposalBrief) *advisory.ProposalAnalysis
}

// Notifier delivers a short message to a user.
type Notifier interface {
	Notify(ctx context.Context, userID, subject, body string)
}

// Directory resolves display names.
type Directory interface {
	FullName(ctx context.Context, userID string) string
}

// ProposeRequest is the body of POST /v1/contracts.
type ProposeRequest struct {
	ListingID    string       `json:"listingId" binding:"required"`
	Quantity     string       `json:"quantityProposed" binding:"required"`
	PricePerUnit string       `json:"pricePerUnitAgreed" binding:"required"`
	PaymentTerms PaymentTerms `json:"paymentTerms"`
}

// CounterRequest is the body of POST /v1/contracts/:id/counter.
type CounterRequest struct {
	Quantity     string `json:"quantityProposed" binding:"required"`
	PricePerUnit string `json:"pricePerUnitAgreed" binding:"required"`
}

// MilestoneInput defines one payout stage.
type MilestoneInput struct {
	Name   string `json:"name" binding:"required"`
	Amount string `json:"amount" binding:"required"`
}

// EvidenceRequest carries a farmer's progress evidence.
type EvidenceRequest struct {
	Name       string `json:"name"`
	UpdateText string `json:"updateText"`
	ImageURL   string `json:"imageUrl"`
}

// Dashboard is a contract with its money position and milestones.
type Dashboard struct {
	Contract   *Contract          `json:"contract"`
	Financials *escrow.Financials `json:"financials"`
	Milestones []*Milestone       `json:"milestones"`
}

// ReleaseResult reports a milestone payout.
type ReleaseResult struct {
	Milestone *Milestone `json:"milestone"`
	Contract  *Contract  `json:"contract"`
	Amount    string     `json:"amountReleased"`
	Final     bool       `json:"final"`
}
