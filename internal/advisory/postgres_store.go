package advisory

import (
	"context"
	"database/sql"
)

// PostgresStore persists advice in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed advice store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateAdvice(ctx context.Context, a *Advice) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO compliance_advice (id, contract_id, text, fallback, generated_at)
		VALUES ($1, $2, $3, $4, $5)
	`, a.ID, a.ContractID, a.Text, a.Fallback, a.GeneratedAt)
	return err
}

func (p *PostgresStore) ListAdvice(ctx context.Context, contractID string, limit int) ([]*Advice, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, contract_id, text, fallback, generated_at
		FROM compliance_advice WHERE contract_id = $1
		ORDER BY generated_at DESC LIMIT $2
	`, contractID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var result []*Advice
	for rows.Next() {
		a := &Advice{}
		if err := rows.Scan(&a.ID, &a.ContractID, &a.Text, &a.Fallback, &a.GeneratedAt); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}
