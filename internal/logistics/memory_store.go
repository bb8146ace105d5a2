package logistics

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory shipment store for demo/development mode.
type MemoryStore struct {
	shipments map[string]*Shipment
	mu        sync.RWMutex
}

// NewMemoryStore creates a new in-memory shipment store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{shipments: make(map[string]*Shipment)}
}

func (m *MemoryStore) CreateShipment(_ context.Context, s *Shipment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.shipments {
		if existing.MilestoneID == s.MilestoneID {
			return ErrAlreadyBooked
		}
	}
	cp := *s
	m.shipments[s.ID] = &cp
	return nil
}

func (m *MemoryStore) GetShipment(_ context.Context, id string) (*Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.shipments[id]
	if !ok {
		return nil, ErrShipmentNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *MemoryStore) ShipmentForMilestone(_ context.Context, milestoneID string) (*Shipment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.shipments {
		if s.MilestoneID == milestoneID {
			cp := *s
			return &cp, nil
		}
	}
	return nil, ErrShipmentNotFound
}

func (m *MemoryStore) ListByContract(_ context.Context, contractID string) ([]*Shipment, error) {
	return m.list(func(s *Shipment) bool { return s.ContractID == contractID }, 0), nil
}

func (m *MemoryStore) ListActive(_ context.Context, limit int) ([]*Shipment, error) {
	return m.list(func(s *Shipment) bool { return !s.Status.IsFinal() }, limit), nil
}

func (m *MemoryStore) UpdateStatus(_ context.Context, id string, status Status, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.shipments[id]
	if !ok {
		return ErrShipmentNotFound
	}
	s.Status = status
	s.UpdatedAt = at
	return nil
}

func (m *MemoryStore) DeleteShipment(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.shipments[id]; !ok {
		return ErrShipmentNotFound
	}
	delete(m.shipments, id)
	return nil
}

func (m *MemoryStore) list(keep func(*Shipment) bool, limit int) []*Shipment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*Shipment, 0)
	for _, s := range m.shipments {
		if keep(s) {
			cp := *s
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].BookedAt.Before(result[j].BookedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}
