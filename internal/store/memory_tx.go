package store

import (
	"context"
	"sort"
	"time"

	"github.com/mbd888/krishiconnect/internal/contracts"
	"github.com/mbd888/krishiconnect/internal/ledger"
	"github.com/mbd888/krishiconnect/internal/listings"
)

var (
	_ ledger.Tx    = (*memTx)(nil)
	_ contracts.Tx = (*memTx)(nil)
)

// memTx stages writes until commit. Reads see staged rows first.
type memTx struct {
	m    *Memory
	held []string

	wallets    map[string]*ledger.Wallet // walletID -> staged wallet
	txns       []*ledger.Transaction
	contracts  map[string]*contracts.Contract
	milestones map[string]*contracts.Milestone
	newMs      []string // created milestone ids in creation order
	listings   map[string]*listings.Listing
}

// run executes fn as one unit of work. Row locks taken by fn are released
// when run returns, after commit or rollback.
func (m *Memory) run(ctx context.Context, fn func(*memTx) error) error {
	tx := &memTx{
		m:          m,
		wallets:    make(map[string]*ledger.Wallet),
		contracts:  make(map[string]*contracts.Contract),
		milestones: make(map[string]*contracts.Milestone),
		listings:   make(map[string]*listings.Listing),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return tx.commit()
}

func (tx *memTx) lockRow(ctx context.Context, key string) error {
	for _, k := range tx.held {
		if k == key {
			return nil
		}
	}
	if err := tx.m.rows.lock(ctx, key); err != nil {
		return err
	}
	tx.held = append(tx.held, key)
	return nil
}

func (tx *memTx) release() {
	for i := len(tx.held) - 1; i >= 0; i-- {
		tx.m.rows.unlock(tx.held[i])
	}
	tx.held = nil
}

func (tx *memTx) commit() error {
	m := tx.m
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, t := range tx.txns {
		if t.Reference != "" && m.refs[t.Reference] {
			return ledger.ErrDuplicateReference
		}
	}

	for _, w := range tx.wallets {
		m.wallets[w.UserID] = w
	}
	for _, t := range tx.txns {
		m.txns = append(m.txns, t)
		if t.Reference != "" {
			m.refs[t.Reference] = true
		}
	}
	for id, c := range tx.contracts {
		if cur, ok := m.contracts[id]; ok && c.Summary == "" {
			c.Summary = cur.Summary
		}
		m.contracts[id] = c
	}
	for _, id := range tx.newMs {
		ms := tx.milestones[id]
		m.byContract[ms.ContractID] = append(m.byContract[ms.ContractID], id)
	}
	for id, ms := range tx.milestones {
		m.milestones[id] = ms
	}
	for id, l := range tx.listings {
		m.listings[id] = l
	}
	return nil
}

// --- ledger.Tx ---

func (tx *memTx) LockWallet(ctx context.Context, userID string) (*ledger.Wallet, error) {
	if err := tx.lockRow(ctx, "wallet:"+userID); err != nil {
		return nil, err
	}
	for _, w := range tx.wallets {
		if w.UserID == userID {
			cp := *w
			return &cp, nil
		}
	}
	w, err := tx.m.GetWallet(ctx, userID)
	if err != nil {
		return nil, err
	}
	tx.wallets[w.ID] = w
	cp := *w
	return &cp, nil
}

func (tx *memTx) UpdateWalletBalance(ctx context.Context, walletID, balance string, at time.Time) error {
	w, ok := tx.wallets[walletID]
	if !ok {
		return ledger.ErrWalletNotFound
	}
	w.Balance = balance
	w.UpdatedAt = at
	return nil
}

func (tx *memTx) AppendTransaction(ctx context.Context, t *ledger.Transaction) error {
	if t.Reference != "" {
		if seen, _ := tx.m.HasReference(ctx, t.Reference); seen {
			return ledger.ErrDuplicateReference
		}
		for _, staged := range tx.txns {
			if staged.Reference == t.Reference {
				return ledger.ErrDuplicateReference
			}
		}
	}
	cp := *t
	tx.txns = append(tx.txns, &cp)
	return nil
}

// --- contracts.Tx ---

func (tx *memTx) CreateContract(ctx context.Context, c *contracts.Contract) error {
	if err := tx.lockRow(ctx, "contract:"+c.ID); err != nil {
		return err
	}
	cp := *c
	tx.contracts[c.ID] = &cp
	return nil
}

func (tx *memTx) LockContract(ctx context.Context, id string) (*contracts.Contract, error) {
	if err := tx.lockRow(ctx, "contract:"+id); err != nil {
		return nil, err
	}
	if c, ok := tx.contracts[id]; ok {
		cp := *c
		return &cp, nil
	}
	c, err := tx.m.GetContract(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (tx *memTx) UpdateContract(ctx context.Context, c *contracts.Contract) error {
	if err := tx.lockRow(ctx, "contract:"+c.ID); err != nil {
		return err
	}
	cp := *c
	tx.contracts[c.ID] = &cp
	return nil
}

func (tx *memTx) CreateMilestone(ctx context.Context, ms *contracts.Milestone) error {
	cp := *ms
	tx.milestones[ms.ID] = &cp
	tx.newMs = append(tx.newMs, ms.ID)
	return nil
}

func (tx *memTx) LockMilestone(ctx context.Context, id string) (*contracts.Milestone, error) {
	if err := tx.lockRow(ctx, "milestone:"+id); err != nil {
		return nil, err
	}
	if ms, ok := tx.milestones[id]; ok {
		cp := *ms
		return &cp, nil
	}
	return tx.m.GetMilestone(ctx, id)
}

func (tx *memTx) UpdateMilestone(ctx context.Context, ms *contracts.Milestone) error {
	if err := tx.lockRow(ctx, "milestone:"+ms.ID); err != nil {
		return err
	}
	cp := *ms
	tx.milestones[ms.ID] = &cp
	return nil
}

func (tx *memTx) ContractMilestones(ctx context.Context, contractID string) ([]*contracts.Milestone, error) {
	tx.m.mu.RLock()
	committed := tx.m.milestonesOf(contractID)
	tx.m.mu.RUnlock()

	result := make([]*contracts.Milestone, 0, len(committed))
	for _, ms := range committed {
		if staged, ok := tx.milestones[ms.ID]; ok {
			cp := *staged
			ms = &cp
		}
		result = append(result, ms)
	}
	for _, id := range tx.newMs {
		if ms := tx.milestones[id]; ms.ContractID == contractID {
			cp := *ms
			result = append(result, &cp)
		}
	}
	sort.SliceStable(result, func(i, j int) bool { return result[i].Seq < result[j].Seq })
	return result, nil
}

func (tx *memTx) LockListing(ctx context.Context, id string) (*listings.Listing, error) {
	if err := tx.lockRow(ctx, "listing:"+id); err != nil {
		return nil, err
	}
	if l, ok := tx.listings[id]; ok {
		cp := *l
		return &cp, nil
	}
	return tx.m.GetListing(ctx, id)
}

func (tx *memTx) SaveListing(ctx context.Context, l *listings.Listing) error {
	if err := tx.lockRow(ctx, "listing:"+l.ID); err != nil {
		return err
	}
	cp := *l
	tx.listings[l.ID] = &cp
	return nil
}

func (tx *memTx) ContractTransactions(ctx context.Context, contractID string) ([]*ledger.Transaction, error) {
	tx.m.mu.RLock()
	result := tx.m.contractTxns(contractID)
	tx.m.mu.RUnlock()

	for _, t := range tx.txns {
		if t.ContractID == contractID {
			cp := *t
			result = append(result, &cp)
		}
	}
	return result, nil
}
