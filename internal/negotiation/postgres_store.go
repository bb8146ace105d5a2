package negotiation

import (
	"context"
	"database/sql"
)

// PostgresStore persists the chat log in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed chat log.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) CreateMessage(ctx context.Context, m *Message) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO negotiation_messages (
			id, contract_id, sender_id, message, proposed_price, proposed_quantity, created_at
		) VALUES ($1, $2, $3, $4, $5::NUMERIC(14,2), $6::NUMERIC(14,3), $7)`,
		m.ID, m.ContractID, m.SenderID, m.Message,
		nullString(m.ProposedPrice), nullString(m.ProposedQuantity), m.CreatedAt,
	)
	return err
}

// ListMessages returns the last limit messages, oldest first.
func (p *PostgresStore) ListMessages(ctx context.Context, contractID string, limit int) ([]*Message, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, contract_id, sender_id, message,
		       COALESCE(proposed_price::TEXT, ''), COALESCE(proposed_quantity::TEXT, ''), created_at
		FROM (
			SELECT * FROM negotiation_messages
			WHERE contract_id = $1
			ORDER BY created_at DESC
			LIMIT $2
		) recent
		ORDER BY created_at ASC`, contractID, limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Message, 0)
	for rows.Next() {
		m := &Message{}
		if err := rows.Scan(&m.ID, &m.ContractID, &m.SenderID, &m.Message,
			&m.ProposedPrice, &m.ProposedQuantity, &m.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
