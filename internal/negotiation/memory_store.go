package negotiation

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory chat log for demo/development mode.
type MemoryStore struct {
	byContract map[string][]*Message
	mu         sync.RWMutex
}

// NewMemoryStore creates a new in-memory chat log.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byContract: make(map[string][]*Message)}
}

func (m *MemoryStore) CreateMessage(_ context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *msg
	m.byContract[msg.ContractID] = append(m.byContract[msg.ContractID], &cp)
	return nil
}

// ListMessages returns the last limit messages, oldest first.
func (m *MemoryStore) ListMessages(_ context.Context, contractID string, limit int) ([]*Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.byContract[contractID]
	if limit > 0 && len(all) > limit {
		all = all[len(all)-limit:]
	}
	result := make([]*Message, 0, len(all))
	for _, msg := range all {
		cp := *msg
		result = append(result, &cp)
	}
	return result, nil
}
