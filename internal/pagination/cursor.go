// Package pagination implements opaque keyset cursors for newest-first
// lists ordered by (createdAt, id).
package pagination

import (
	"encoding/base64"
	"errors"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidCursor is returned for a cursor this package did not produce.
var ErrInvalidCursor = errors.New("invalid cursor")

// Cursor is the key of the last item on a page.
type Cursor struct {
	CreatedAt time.Time
	ID        string
}

// String encodes the cursor for a nextCursor response field.
func (c Cursor) String() string {
	raw := strconv.FormatInt(c.CreatedAt.UnixNano(), 10) + "|" + c.ID
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode parses a cursor. An empty string means the first page and
// returns nil.
func Decode(s string) (*Cursor, error) {
	if s == "" {
		return nil, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(s)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	nanos, id, ok := strings.Cut(string(raw), "|")
	if !ok || id == "" {
		return nil, ErrInvalidCursor
	}
	n, err := strconv.ParseInt(nanos, 10, 64)
	if err != nil {
		return nil, ErrInvalidCursor
	}
	return &Cursor{CreatedAt: time.Unix(0, n).UTC(), ID: id}, nil
}

// After drops the items up to and including the cursor from a
// newest-first slice. When the cursor's item is gone it falls back to the
// first item older than the cursor time.
func After[T any](items []T, c *Cursor, key func(T) Cursor) []T {
	if c == nil {
		return items
	}
	for i, it := range items {
		k := key(it)
		if k.ID == c.ID {
			return items[i+1:]
		}
		if k.CreatedAt.Before(c.CreatedAt) {
			return items[i:]
		}
	}
	return items[:0]
}

// Page trims items to limit. Callers fetch limit+1 so a surplus item
// signals another page; next is then the cursor of the last kept item.
func Page[T any](items []T, limit int, key func(T) Cursor) (page []T, next string, more bool) {
	if limit <= 0 || len(items) <= limit {
		return items, "", false
	}
	page = items[:limit]
	return page, key(page[limit-1]).String(), true
}
