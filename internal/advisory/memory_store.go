package advisory

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore keeps advice in memory for development and tests.
type MemoryStore struct {
	mu     sync.RWMutex
	advice map[string][]*Advice // contractID -> advice
}

// NewMemoryStore creates an in-memory advice store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{advice: make(map[string][]*Advice)}
}

func (m *MemoryStore) CreateAdvice(ctx context.Context, a *Advice) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.advice[a.ContractID] = append(m.advice[a.ContractID], &cp)
	return nil
}

func (m *MemoryStore) ListAdvice(ctx context.Context, contractID string, limit int) ([]*Advice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	src := m.advice[contractID]
	result := make([]*Advice, 0, len(src))
	for _, a := range src {
		cp := *a
		result = append(result, &cp)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].GeneratedAt.After(result[j].GeneratedAt)
	})
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}
