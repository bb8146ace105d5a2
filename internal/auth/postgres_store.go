package auth

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"
)

// PostgresStore persists users in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed user store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Create stores a new user
func (p *PostgresStore) Create(ctx context.Context, u *User) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, full_name, role, business_type, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, u.ID, u.Email, u.PasswordHash, u.FullName, string(u.Role), u.BusinessType, u.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return ErrEmailTaken
	}
	return err
}

const userColumns = `id, email, password_hash, full_name, role, business_type, created_at`

// Get retrieves a user by id
func (p *PostgresStore) Get(ctx context.Context, id string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByEmail retrieves a user by normalized email
func (p *PostgresStore) GetByEmail(ctx context.Context, email string) (*User, error) {
	return p.scanOne(p.db.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// ListByRole lists users with the given role, oldest first
func (p *PostgresStore) ListByRole(ctx context.Context, role Role, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+userColumns+` FROM users WHERE role = $1 ORDER BY created_at LIMIT $2
	`, string(role), limit)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

func (p *PostgresStore) scanOne(row *sql.Row) (*User, error) {
	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrUserNotFound
	}
	return u, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanUser(s scanner) (*User, error) {
	u := &User{}
	var role string
	var businessType sql.NullString
	if err := s.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &role, &businessType, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.Role = Role(role)
	u.BusinessType = businessType.String
	return u, nil
}
