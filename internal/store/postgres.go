package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
	"github.com/mbd888/krishiconnect/internal/money"
)

var (
	_ ledger.Store    = (*Postgres)(nil)
	_ listings.Store  = (*Postgres)(nil)
	_ contracts.Store = (*Postgres)(nil)
	_ escrow.Reader   = (*Postgres)(nil)
	_ contracts.Tx    = (*pgTx)(nil)
)

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// Postgres persists the marketplace in PostgreSQL. Units of work run at
// READ COMMITTED with SELECT ... FOR UPDATE on every locked row.
type Postgres struct {
	db *sql.DB
}

// NewPostgres creates a PostgreSQL-backed store.
func NewPostgres(db *sql.DB) *Postgres {
	return &Postgres{db: db}
}

// pgTx is a unit of work on one database transaction.
type pgTx struct {
	tx *sql.Tx
}

func (p *Postgres) run(ctx context.Context, fn func(*pgTx) error) error {
	tx, err := p.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapUnique(fmt.Errorf("commit: %w", err))
	}
	return nil
}

func (p *Postgres) InWalletTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return p.run(ctx, func(tx *pgTx) error { return fn(tx) })
}

func (p *Postgres) InContractTx(ctx context.Context, fn func(contracts.Tx) error) error {
	return p.run(ctx, func(tx *pgTx) error { return fn(tx) })
}

// mapUnique turns a reference uniqueness violation into ErrDuplicateReference.
func mapUnique(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" && pqErr.Constraint == "transactions_reference_key" {
		return ledger.ErrDuplicateReference
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// dbAmount renders a NUMERIC(14,2) column in canonical form.
func dbAmount(s string) string {
	if n, err := money.Normalize(s); err == nil {
		return n
	}
	return s
}

// dbQuantity trims the trailing zeros NUMERIC(14,3) carries.
func dbQuantity(s string) string {
	if n, err := money.NormalizeQuantity(s); err == nil {
		return n
	}
	return s
}

// --- wallets & transactions ---

const walletColumns = `id, user_id, balance, created_at, updated_at`

func scanWallet(row scanner) (*ledger.Wallet, error) {
	w := &ledger.Wallet{}
	var balance string
	if err := row.Scan(&w.ID, &w.UserID, &balance, &w.CreatedAt, &w.UpdatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ledger.ErrWalletNotFound
		}
		return nil, err
	}
	w.Balance = dbAmount(balance)
	return w, nil
}

func (p *Postgres) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO wallets (id, user_id, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)`,
		w.ID, w.UserID, w.Balance, w.CreatedAt, w.UpdatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ledger.ErrWalletExists
	}
	return err
}

func (p *Postgres) GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	return scanWallet(p.db.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1`, userID))
}

func (p *Postgres) ListWallets(ctx context.Context, limit int) ([]*ledger.Wallet, error) {
	if limit <= 0 {
		limit = 10000
	}
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+walletColumns+` FROM wallets ORDER BY created_at LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*ledger.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, w)
	}
	return result, rows.Err()
}

const txnColumns = `id, wallet_id, contract_id, kind, amount, reference, created_at`

func scanTxns(rows *sql.Rows) ([]*ledger.Transaction, error) {
	defer func() { _ = rows.Close() }()
	var result []*ledger.Transaction
	for rows.Next() {
		t := &ledger.Transaction{}
		var contractID, reference sql.NullString
		var kind, amount string
		if err := rows.Scan(&t.ID, &t.WalletID, &contractID, &kind, &amount, &reference, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.ContractID = contractID.String
		t.Reference = reference.String
		t.Kind = ledger.Kind(kind)
		t.Amount = dbAmount(amount)
		result = append(result, t)
	}
	return result, rows.Err()
}

func (p *Postgres) ListTransactions(ctx context.Context, walletID string, limit int) ([]*ledger.Transaction, error) {
	var rows *sql.Rows
	var err error
	if limit > 0 {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+txnColumns+` FROM transactions
			WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, walletID, limit)
	} else {
		rows, err = p.db.QueryContext(ctx, `
			SELECT `+txnColumns+` FROM transactions
			WHERE wallet_id = $1 ORDER BY created_at DESC, id DESC`, walletID)
	}
	if err != nil {
		return nil, err
	}
	return scanTxns(rows)
}

func (p *Postgres) HasReference(ctx context.Context, reference string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM transactions WHERE reference = $1)`, reference).Scan(&exists)
	return exists, err
}

func contractTxns(ctx context.Context, q querier, contractID string) ([]*ledger.Transaction, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT `+txnColumns+` FROM transactions
		WHERE contract_id = $1 ORDER BY created_at, id`, contractID)
	if err != nil {
		return nil, err
	}
	return scanTxns(rows)
}

func (tx *pgTx) LockWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	return scanWallet(tx.tx.QueryRowContext(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE user_id = $1 FOR UPDATE`, userID))
}

func (tx *pgTx) UpdateWalletBalance(ctx context.Context, walletID, balance string, at time.Time) error {
	res, err := tx.tx.ExecContext(ctx,
		`UPDATE wallets SET balance = $1, updated_at = $2 WHERE id = $3`, balance, at, walletID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ledger.ErrWalletNotFound
	}
	return nil
}

func (tx *pgTx) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	_, err := tx.tx.ExecContext(ctx, `
		INSERT INTO transactions (id, wallet_id, contract_id, kind, amount, reference, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.WalletID, nullString(t.ContractID), string(t.Kind), t.Amount, nullString(t.Reference), t.CreatedAt)
	return mapUnique(err)
}

func (tx *pgTx) ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error) {
	return contractTxns(ctx, tx.tx, contractID)
}

// --- escrow.Reader ---

func (p *Postgres) EscrowTerms(ctx context.Context, contractID string) (escrow.Terms, error) {
	c, err := p.GetContract(ctx, contractID)
	if err != nil {
		return escrow.Terms{}, err
	}
	return c.Terms(), nil
}

func (p *Postgres) ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error) {
	return contractTxns(ctx, p.db, contractID)
}
