// Package ledger tracks wallet balances on the marketplace.
//
// Flow:
//  1. Buyer tops up (deposit credits the wallet)
//  2. Contract acceptance debits the buyer into escrow
//  3. Milestone payouts and completion release escrow to the farmer
//  4. Farmer withdraws (withdrawal debits the wallet)
//
// A wallet's balance always equals the signed sum of its transactions.
// Transactions are append-only; every balance change is written together
// with exactly one transaction inside a unit of work.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/krishiconnect/internal/idgen"
	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/pagination"
	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrInvalidKind        = errors.New("invalid transaction kind for operation")
	ErrWalletNotFound     = errors.New("wallet not found")
	ErrWalletExists       = errors.New("wallet already exists")
	ErrDuplicateReference = errors.New("transaction reference already recorded")
	ErrInvalidCursor      = pagination.ErrInvalidCursor
)

// Kind classifies a transaction.
type Kind string

const (
	KindDeposit    Kind = "deposit"    // external funds in (credit)
	KindWithdrawal Kind = "withdrawal" // external funds out (debit)
	KindEscrow     Kind = "escrow"     // buyer funds held against a contract (debit)
	KindRelease    Kind = "release"    // escrowed funds paid to the farmer (credit)
)

// IsCredit reports whether the kind increases a wallet balance.
func (k Kind) IsCredit() bool {
	return k == KindDeposit || k == KindRelease
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindDeposit, KindWithdrawal, KindEscrow, KindRelease:
		return true
	}
	return false
}

// Wallet holds a user's spendable balance.
type Wallet struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Transaction is an immutable ledger entry.
type Transaction struct {
	ID         string    `json:"id"`
	WalletID   string    `json:"walletId"`
	ContractID string    `json:"contractId,omitempty"`
	Kind       Kind      `json:"kind"`
	Amount     string    `json:"amount"`
	Reference  string    `json:"reference,omitempty"` // unique when set (payment intent id, escrow:<contract>)
	CreatedAt  time.Time `json:"createdAt"`
}

// Signed returns the amount with its effect on the wallet: positive for
// credits, negative for debits.
func (t *Transaction) Signed() decimal.Decimal {
	amt := money.MustParse(t.Amount)
	if t.Kind.IsCredit() {
		return amt
	}
	return amt.Neg()
}

// Posting describes a single balance movement.
type Posting struct {
	UserID     string
	Amount     string
	Kind       Kind
	ContractID string
	Reference  string
}

// Tx is a unit of work. LockWallet holds the wallet row until the unit of
// work ends, so a balance check and the write that depends on it cannot be
// interleaved with another writer.
type Tx interface {
	LockWallet(ctx context.Context, userID string) (*Wallet, error)
	UpdateWalletBalance(ctx context.Context, walletID, balance string, at time.Time) error
	AppendTransaction(ctx context.Context, txn *Transaction) error
}

// Store persists wallets and transactions.
type Store interface {
	CreateWallet(ctx context.Context, w *Wallet) error
	GetWallet(ctx context.Context, userID string) (*Wallet, error)
	ListWallets(ctx context.Context, limit int) ([]*Wallet, error)
	// ListTransactions returns newest first; limit <= 0 returns everything.
	ListTransactions(ctx context.Context, walletID string, limit int) ([]*Transaction, error)
	HasReference(ctx context.Context, reference string) (bool, error)
	InWalletTx(ctx context.Context, fn func(Tx) error) error
}

// Credit increases a wallet balance and appends the matching transaction.
func Credit(ctx context.Context, tx Tx, p Posting) (*Transaction, error) {
	if !p.Kind.IsCredit() {
		return nil, fmt.Errorf("%w: %s is not a credit", ErrInvalidKind, p.Kind)
	}
	return post(ctx, tx, p)
}

// Debit decreases a wallet balance and appends the matching transaction.
// The balance never goes negative: ErrInsufficientFunds leaves it untouched.
func Debit(ctx context.Context, tx Tx, p Posting) (*Transaction, error) {
	if !p.Kind.Valid() || p.Kind.IsCredit() {
		return nil, fmt.Errorf("%w: %s is not a debit", ErrInvalidKind, p.Kind)
	}
	return post(ctx, tx, p)
}

func post(ctx context.Context, tx Tx, p Posting) (*Transaction, error) {
	amount, err := money.ParsePositive(p.Amount)
	if err != nil {
		return nil, ErrInvalidAmount
	}

	w, err := tx.LockWallet(ctx, p.UserID)
	if err != nil {
		return nil, err
	}

	balance := money.MustParse(w.Balance)
	if p.Kind.IsCredit() {
		balance = balance.Add(amount)
		if !money.InRange(balance) {
			return nil, fmt.Errorf("%w: balance would exceed %s", ErrInvalidAmount, money.Format(money.MaxAmount))
		}
	} else {
		if balance.LessThan(amount) {
			return nil, ErrInsufficientFunds
		}
		balance = balance.Sub(amount)
	}

	now := time.Now().UTC()
	txn := &Transaction{
		ID:         idgen.WithPrefix(idgen.Transaction),
		WalletID:   w.ID,
		ContractID: p.ContractID,
		Kind:       p.Kind,
		Amount:     money.Format(amount),
		Reference:  p.Reference,
		CreatedAt:  now,
	}
	if err := tx.AppendTransaction(ctx, txn); err != nil {
		return nil, err
	}
	if err := tx.UpdateWalletBalance(ctx, w.ID, money.Format(balance), now); err != nil {
		return nil, fmt.Errorf("failed to update balance: %w", err)
	}
	return txn, nil
}

// NewWallet returns an empty wallet for userID.
func NewWallet(userID string) *Wallet {
	now := time.Now().UTC()
	return &Wallet{
		ID:        idgen.WithPrefix(idgen.Wallet),
		UserID:    userID,
		Balance:   money.Format(money.Zero),
		CreatedAt: now,
		UpdatedAt: now,
	}
}
