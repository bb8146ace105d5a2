// Package escrow derives a contract's money position from the ledger.
//
// Nothing here mutates state. A contract's financials are recomputed from
// its current terms and its tagged transactions on every call:
//
//	total_value      = quantity x price_per_unit (2 places)
//	escrow_amount    = sum(escrow) - sum(release)
//	amount_paid      = sum(release)
//	remaining_to_pay = total_value - amount_paid
package escrow

import (
	"errors"
	"fmt"

	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidTerms   = errors.New("escrow: invalid contract terms")
	ErrNegativeEscrow = errors.New("escrow: released more than was escrowed")
	ErrOverpaid       = errors.New("escrow: paid more than the contract value")
)

// Terms are the inputs to total value.
type Terms struct {
	Quantity     string
	PricePerUnit string
}

// Total returns quantity x price rounded to two places.
func (t Terms) Total() (decimal.Decimal, error) {
	q, err := money.ParseQuantity(t.Quantity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: quantity %q", ErrInvalidTerms, t.Quantity)
	}
	p, err := money.Parse(t.PricePerUnit)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: price %q", ErrInvalidTerms, t.PricePerUnit)
	}
	return money.Total(q, p), nil
}

// Financials is a contract's money position at one observation point.
type Financials struct {
	ContractID     string `json:"contractId"`
	TotalValue     string `json:"totalValue"`
	EscrowAmount   string `json:"escrowAmount"`
	AmountPaid     string `json:"amountPaid"`
	RemainingToPay string `json:"remainingToPay"`
}

// Escrow returns EscrowAmount as a decimal.
func (f *Financials) Escrow() decimal.Decimal {
	return money.MustParse(f.EscrowAmount)
}

// Compute derives financials from terms and transactions. Transactions not
// tagged with contractID, and deposit/withdrawal kinds, are ignored.
func Compute(contractID string, terms Terms, txns []*ledger.Transaction) (*Financials, error) {
	total, err := terms.Total()
	if err != nil {
		return nil, err
	}

	escrowed := decimal.Zero
	released := decimal.Zero
	for _, t := range txns {
		if t.ContractID != contractID {
			continue
		}
		switch t.Kind {
		case ledger.KindEscrow:
			escrowed = escrowed.Add(money.MustParse(t.Amount))
		case ledger.KindRelease:
			released = released.Add(money.MustParse(t.Amount))
		}
	}

	return &Financials{
		ContractID:     contractID,
		TotalValue:     money.Format(total),
		EscrowAmount:   money.Format(escrowed.Sub(released)),
		AmountPaid:     money.Format(released),
		RemainingToPay: money.Format(total.Sub(released)),
	}, nil
}

// Verify checks the escrow invariants: escrow never negative and nothing
// paid beyond the contract value.
func Verify(f *Financials) error {
	if f.Escrow().IsNegative() {
		return fmt.Errorf("%w: contract %s escrow %s", ErrNegativeEscrow, f.ContractID, f.EscrowAmount)
	}
	if money.MustParse(f.AmountPaid).GreaterThan(money.MustParse(f.TotalValue)) {
		return fmt.Errorf("%w: contract %s paid %s of %s", ErrOverpaid, f.ContractID, f.AmountPaid, f.TotalValue)
	}
	return nil
}
