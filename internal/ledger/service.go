package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/krishiconnect/internal/money"
	"github.com/mbd888/krishiconnect/internal/pagination"
	"github.com/mbd888/krishiconnect/internal/syncutil"
	"github.com/mbd888/krishiconnect/internal/traces"
)

// Service runs standalone wallet operations. Contract-driven escrow and
// release postings go through Credit/Debit inside the contract unit of work.
type Service struct {
	store  Store
	locks  syncutil.ShardedMutex
	logger *slog.Logger
}

// NewService creates a ledger service.
func NewService(store Store) *Service {
	return &Service{store: store, logger: slog.Default()}
}

// WithLogger sets the service logger.
func (s *Service) WithLogger(l *slog.Logger) *Service {
	s.logger = l
	return s
}

// CreateWallet opens an empty wallet for a newly registered user.
func (s *Service) CreateWallet(ctx context.Context, userID string) (*Wallet, error) {
	w := NewWallet(userID)
	if err := s.store.CreateWallet(ctx, w); err != nil {
		return nil, err
	}
	return w, nil
}

// OpenWallet creates the wallet a new user owns.
func (s *Service) OpenWallet(ctx context.Context, userID string) error {
	_, err := s.CreateWallet(ctx, userID)
	return err
}

// Wallet returns the user's wallet.
func (s *Service) Wallet(ctx context.Context, userID string) (*Wallet, error) {
	return s.store.GetWallet(ctx, userID)
}

// Deposit credits external funds. A non-empty reference is recorded once;
// replays fail with ErrDuplicateReference.
func (s *Service) Deposit(ctx context.Context, userID, amount, reference string) (*Wallet, *Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Deposit", traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	if reference != "" {
		exists, err := s.store.HasReference(ctx, reference)
		if err != nil {
			return nil, nil, err
		}
		if exists {
			return nil, nil, ErrDuplicateReference
		}
	}
	return s.apply(ctx, Posting{UserID: userID, Amount: amount, Kind: KindDeposit, Reference: reference})
}

// Withdraw debits funds leaving the platform.
func (s *Service) Withdraw(ctx context.Context, userID, amount string) (*Wallet, *Transaction, error) {
	ctx, span := traces.StartSpan(ctx, "ledger.Withdraw", traces.UserID(userID), traces.Amount(amount))
	defer span.End()

	return s.apply(ctx, Posting{UserID: userID, Amount: amount, Kind: KindWithdrawal})
}

func (s *Service) apply(ctx context.Context, p Posting) (*Wallet, *Transaction, error) {
	if _, err := money.ParsePositive(p.Amount); err != nil {
		return nil, nil, ErrInvalidAmount
	}

	unlock := s.locks.Lock(p.UserID)
	defer unlock()

	done := observeOp(string(p.Kind))
	defer done()

	var txn *Transaction
	err := s.store.InWalletTx(ctx, func(tx Tx) error {
		var err error
		if p.Kind.IsCredit() {
			txn, err = Credit(ctx, tx, p)
		} else {
			txn, err = Debit(ctx, tx, p)
		}
		return err
	})
	if err != nil {
		return nil, nil, err
	}
	RecordPosted(txn)

	w, err := s.store.GetWallet(ctx, p.UserID)
	if err != nil {
		return nil, txn, err
	}
	s.logger.Info("wallet posting",
		"userId", p.UserID,
		"kind", p.Kind,
		"amount", txn.Amount,
		"balance", w.Balance,
	)
	return w, txn, nil
}

// History returns the user's transactions, newest first.
func (s *Service) History(ctx context.Context, userID string, limit int) ([]*Transaction, error) {
	if limit <= 0 {
		limit = 50
	}
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.store.ListTransactions(ctx, w.ID, limit)
}

// TransactionPage is one page of wallet history.
type TransactionPage struct {
	Transactions []*Transaction `json:"transactions"`
	NextCursor   string         `json:"nextCursor,omitempty"`
	HasMore      bool           `json:"hasMore"`
}

// HistoryPage returns up to limit transactions older than cursor, newest
// first. An empty cursor starts at the most recent transaction.
func (s *Service) HistoryPage(ctx context.Context, userID, cursor string, limit int) (*TransactionPage, error) {
	if limit <= 0 {
		limit = 50
	}
	after, err := pagination.Decode(cursor)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, w.ID, 0)
	if err != nil {
		return nil, err
	}

	txns = pagination.After(txns, after, txnKey)
	if len(txns) > limit+1 {
		txns = txns[:limit+1]
	}

	page, next, more := pagination.Page(txns, limit, txnKey)
	if page == nil {
		page = []*Transaction{}
	}
	return &TransactionPage{Transactions: page, NextCursor: next, HasMore: more}, nil
}

func txnKey(t *Transaction) pagination.Cursor {
	return pagination.Cursor{CreatedAt: t.CreatedAt, ID: t.ID}
}

// AuditResult compares a stored balance with the sum of its transactions.
type AuditResult struct {
	UserID        string    `json:"userId"`
	WalletID      string    `json:"walletId"`
	StoredBalance string    `json:"storedBalance"`
	ReplayBalance string    `json:"replayBalance"`
	TotalCredits  string    `json:"totalCredits"`
	TotalDebits   string    `json:"totalDebits"`
	Transactions  int       `json:"transactions"`
	Match         bool      `json:"match"`
	CheckedAt     time.Time `json:"checkedAt"`
}

// Audit replays a wallet's history and compares it with the stored balance.
func (s *Service) Audit(ctx context.Context, userID string) (*AuditResult, error) {
	w, err := s.store.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.audit(ctx, w)
}

// AuditAll audits every wallet, up to limit wallets.
func (s *Service) AuditAll(ctx context.Context, limit int) ([]*AuditResult, error) {
	wallets, err := s.store.ListWallets(ctx, limit)
	if err != nil {
		return nil, err
	}
	results := make([]*AuditResult, 0, len(wallets))
	for _, w := range wallets {
		r, err := s.audit(ctx, w)
		if err != nil {
			return nil, fmt.Errorf("audit wallet %s: %w", w.ID, err)
		}
		if !r.Match {
			AuditMismatches.Inc()
			s.logger.Error("CRITICAL: wallet balance does not match transaction history",
				"walletId", w.ID, "stored", r.StoredBalance, "replayed", r.ReplayBalance)
		}
		results = append(results, r)
	}
	return results, nil
}

func (s *Service) audit(ctx context.Context, w *Wallet) (*AuditResult, error) {
	// Hold the wallet lock so the snapshot and the history agree.
	unlock := s.locks.Lock(w.UserID)
	defer unlock()

	current, err := s.store.GetWallet(ctx, w.UserID)
	if err != nil {
		return nil, err
	}
	txns, err := s.store.ListTransactions(ctx, current.ID, 0)
	if err != nil {
		return nil, err
	}

	r := Replay(txns)
	r.UserID = current.UserID
	r.WalletID = current.ID
	r.StoredBalance = current.Balance
	r.Match = money.MustParse(current.Balance).Equal(money.MustParse(r.ReplayBalance))
	r.CheckedAt = time.Now().UTC()
	return r, nil
}

// Replay sums a transaction history.
func Replay(txns []*Transaction) *AuditResult {
	credits := money.Zero
	debits := money.Zero
	for _, t := range txns {
		amt := money.MustParse(t.Amount)
		if t.Kind.IsCredit() {
			credits = credits.Add(amt)
		} else {
			debits = debits.Add(amt)
		}
	}
	return &AuditResult{
		ReplayBalance: money.Format(credits.Sub(debits)),
		TotalCredits:  money.Format(credits),
		TotalDebits:   money.Format(debits),
		Transactions:  len(txns),
	}
}

// IsClientError reports whether err is a caller mistake rather than a fault.
func IsClientError(err error) bool {
	return errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrDuplicateReference) ||
		errors.Is(err, ErrWalletNotFound)
}
