// Package store persists the marketplace: wallets and their transactions,
// listings, contracts and milestones.
//
// Both backends expose one unit of work across all of them, so a contract
// status change, a listing closure and the ledger postings that go with it
// commit together. Memory is for development and tests; Postgres is for
// everything else.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/escrow"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
)

var (
	_ ledger.Store    = (*Memory)(nil)
	_ listings.Store  = (*Memory)(nil)
	_ contracts.Store = (*Memory)(nil)
	_ escrow.Reader   = (*Memory)(nil)
)

// Memory is an in-memory store. Units of work hold per-row locks until they
// end and stage their writes; nothing is visible to readers before commit.
type Memory struct {
	mu   sync.RWMutex
	rows rowLocks

	wallets    map[string]*ledger.Wallet // userID -> wallet
	txns       []*ledger.Transaction     // append order
	refs       map[string]bool
	listings   map[string]*listings.Listing
	contracts  map[string]*contracts.Contract
	milestones map[string]*contracts.Milestone
	byContract map[string][]string // contractID -> milestone ids in seq order
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		rows:       rowLocks{held: make(map[string]chan struct{})},
		wallets:    make(map[string]*ledger.Wallet),
		refs:       make(map[string]bool),
		listings:   make(map[string]*listings.Listing),
		contracts:  make(map[string]*contracts.Contract),
		milestones: make(map[string]*contracts.Milestone),
		byContract: make(map[string][]string),
	}
}

// rowLocks is a set of per-key mutexes that respect context cancellation.
type rowLocks struct {
	mu   sync.Mutex
	held map[string]chan struct{}
}

func (r *rowLocks) lock(ctx context.Context, key string) error {
	r.mu.Lock()
	ch, ok := r.held[key]
	if !ok {
		ch = make(chan struct{}, 1)
		r.held[key] = ch
	}
	r.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *rowLocks) unlock(key string) {
	r.mu.Lock()
	ch := r.held[key]
	r.mu.Unlock()
	<-ch
}

// --- ledger.Store ---

func (m *Memory) CreateWallet(ctx context.Context, w *ledger.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[w.UserID]; ok {
		return ledger.ErrWalletExists
	}
	cp := *w
	m.wallets[w.UserID] = &cp
	return nil
}

func (m *Memory) GetWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[userID]
	if !ok {
		return nil, ledger.ErrWalletNotFound
	}
	cp := *w
	return &cp, nil
}

func (m *Memory) ListWallets(ctx context.Context, limit int) ([]*ledger.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	result := make([]*ledger.Wallet, 0, len(m.wallets))
	for _, w := range m.wallets {
		cp := *w
		result = append(result, &cp)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.Before(result[j].CreatedAt) })
	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result, nil
}

func (m *Memory) ListTransactions(ctx context.Context, walletID string, limit int) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*ledger.Transaction
	for i := len(m.txns) - 1; i >= 0; i-- {
		if t := m.txns[i]; t.WalletID == walletID {
			cp := *t
			result = append(result, &cp)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (m *Memory) HasReference(ctx context.Context, reference string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refs[reference], nil
}

func (m *Memory) InWalletTx(ctx context.Context, fn func(ledger.Tx) error) error {
	return m.run(ctx, func(tx *memTx) error { return fn(tx) })
}

// --- listings.Store ---

func (m *Memory) CreateListing(ctx context.Context, l *listings.Listing) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *Memory) GetListing(ctx context.Context, id string) (*listings.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.listings[id]
	if !ok {
		return nil, listings.ErrNotFound
	}
	cp := *l
	return &cp, nil
}

// UpdateListing writes outside a unit of work. It takes the row lock so it
// cannot interleave with a contract closing the listing.
func (m *Memory) UpdateListing(ctx context.Context, l *listings.Listing) error {
	key := "listing:" + l.ID
	if err := m.rows.lock(ctx, key); err != nil {
		return err
	}
	defer m.rows.unlock(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.listings[l.ID]
	if !ok {
		return listings.ErrNotFound
	}
	if !cur.IsActive() {
		return listings.ErrClosed
	}
	cp := *l
	m.listings[l.ID] = &cp
	return nil
}

func (m *Memory) ListListings(ctx context.Context, f listings.Filter) ([]*listings.Listing, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*listings.Listing
	for _, l := range m.listings {
		if f.Matches(l) {
			cp := *l
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

// --- contracts.Store ---

func (m *Memory) GetContract(ctx context.Context, id string) (*contracts.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contracts[id]
	if !ok {
		return nil, contracts.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListContracts(ctx context.Context, f contracts.Filter) ([]*contracts.Contract, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var result []*contracts.Contract
	for _, c := range m.contracts {
		if f.Matches(c) {
			cp := *c
			result = append(result, &cp)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].CreatedAt.After(result[j].CreatedAt) })
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (m *Memory) SetContractSummary(ctx context.Context, id, summary string) error {
	key := "contract:" + id
	if err := m.rows.lock(ctx, key); err != nil {
		return err
	}
	defer m.rows.unlock(key)

	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contracts[id]
	if !ok {
		return contracts.ErrNotFound
	}
	cp := *c
	cp.Summary = summary
	m.contracts[id] = &cp
	return nil
}

func (m *Memory) GetMilestone(ctx context.Context, id string) (*contracts.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ms, ok := m.milestones[id]
	if !ok {
		return nil, contracts.ErrMilestoneNotFound
	}
	cp := *ms
	return &cp, nil
}

func (m *Memory) ListMilestones(ctx context.Context, contractID string) ([]*contracts.Milestone, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.milestonesOf(contractID), nil
}

// milestonesOf copies a contract's committed milestones. Caller holds mu.
func (m *Memory) milestonesOf(contractID string) []*contracts.Milestone {
	ids := m.byContract[contractID]
	result := make([]*contracts.Milestone, 0, len(ids))
	for _, id := range ids {
		cp := *m.milestones[id]
		result = append(result, &cp)
	}
	return result
}

func (m *Memory) InContractTx(ctx context.Context, fn func(contracts.Tx) error) error {
	return m.run(ctx, func(tx *memTx) error { return fn(tx) })
}

// --- escrow.Reader ---

func (m *Memory) EscrowTerms(ctx context.Context, contractID string) (escrow.Terms, error) {
	c, err := m.GetContract(ctx, contractID)
	if err != nil {
		return escrow.Terms{}, err
	}
	return c.Terms(), nil
}

func (m *Memory) ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.contractTxns(contractID), nil
}

// contractTxns copies committed transactions tagged with contractID. Caller holds mu.
func (m *Memory) contractTxns(contractID string) []*ledger.Transaction {
	var result []*ledger.Transaction
	for _, t := range m.txns {
		if t.ContractID == contractID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result
}
