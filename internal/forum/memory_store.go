package forum

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is an in-memory forum store for demo/development mode.
type MemoryStore struct {
	posts   map[string]*Post
	replies map[string][]*Reply // post id -> replies in insertion order
	mu      sync.RWMutex
}

// NewMemoryStore creates a new in-memory forum store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		posts:   make(map[string]*Post),
		replies: make(map[string][]*Reply),
	}
}

func (m *MemoryStore) CreatePost(_ context.Context, p *Post) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *p
	m.posts[p.ID] = &cp
	return nil
}

func (m *MemoryStore) GetPost(_ context.Context, id string) (*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.posts[id]
	if !ok {
		return nil, ErrPostNotFound
	}
	cp := *p
	cp.ReplyCount = len(m.replies[id])
	return &cp, nil
}

func (m *MemoryStore) ListPosts(_ context.Context, f Filter) ([]*Post, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	query := strings.ToLower(f.Query)
	result := make([]*Post, 0)
	for _, p := range m.posts {
		if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(p.Title), query) {
			continue
		}
		cp := *p
		cp.ReplyCount = len(m.replies[p.ID])
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *MemoryStore) CreateReply(_ context.Context, r *Reply) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.posts[r.PostID]; !ok {
		return ErrPostNotFound
	}
	cp := *r
	m.replies[r.PostID] = append(m.replies[r.PostID], &cp)
	return nil
}

func (m *MemoryStore) ListReplies(_ context.Context, postID string) ([]*Reply, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Reply, 0, len(m.replies[postID]))
	for _, r := range m.replies[postID] {
		cp := *r
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	return result, nil
}
