package forum

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

// PostgresStore persists the forum in PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed forum store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const postColumns = `p.id, p.author_id, p.title, p.content, p.category, p.image_url, p.created_at,
	(SELECT COUNT(*) FROM forum_replies r WHERE r.post_id = p.id)`

func (s *PostgresStore) CreatePost(ctx context.Context, p *Post) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_posts (id, author_id, title, content, category, image_url, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		p.ID, p.AuthorID, p.Title, p.Content, p.Category, p.ImageURL, p.CreatedAt,
	)
	return err
}

func (s *PostgresStore) GetPost(ctx context.Context, id string) (*Post, error) {
	return scanPost(s.db.QueryRowContext(ctx,
		`SELECT `+postColumns+` FROM forum_posts p WHERE p.id = $1`, id))
}

func (s *PostgresStore) ListPosts(ctx context.Context, f Filter) ([]*Post, error) {
	var where []string
	var args []any
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, fmt.Sprintf(cond, len(args)))
	}
	if f.Category != "" {
		add("lower(p.category) = lower($%d)", f.Category)
	}
	if f.Query != "" {
		add("p.title ILIKE '%%' || $%d || '%%'", escapeLike(f.Query))
	}

	q := `SELECT ` + postColumns + ` FROM forum_posts p`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY p.created_at DESC`
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Post, 0)
	for rows.Next() {
		p, err := scanPost(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

func (s *PostgresStore) CreateReply(ctx context.Context, r *Reply) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO forum_replies (id, post_id, author_id, content, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.PostID, r.AuthorID, r.Content, r.CreatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23503" {
		return ErrPostNotFound
	}
	return err
}

func (s *PostgresStore) ListReplies(ctx context.Context, postID string) ([]*Reply, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, post_id, author_id, content, created_at
		FROM forum_replies WHERE post_id = $1 ORDER BY created_at, id`, postID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	result := make([]*Reply, 0)
	for rows.Next() {
		r := &Reply{}
		if err := rows.Scan(&r.ID, &r.PostID, &r.AuthorID, &r.Content, &r.CreatedAt); err != nil {
			return nil, err
		}
		result = append(result, r)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanPost(row scanner) (*Post, error) {
	p := &Post{}
	err := row.Scan(&p.ID, &p.AuthorID, &p.Title, &p.Content, &p.Category, &p.ImageURL, &p.CreatedAt, &p.ReplyCount)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrPostNotFound
	}
	if err != nil {
		return nil, err
	}
	return p, nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside ILIKE.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
