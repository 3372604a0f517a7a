package ledger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// MemoryStore is an in-memory ledger store for demo/development mode.
type MemoryStore struct {
	accounts map[string]*Account
	records  map[string][]*FinanceRecord // account id -> records, oldest first
	mu       sync.RWMutex
}

// NewMemoryStore creates a new in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		records:  make(map[string][]*FinanceRecord),
	}
}

func (m *MemoryStore) CreateAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[id]; ok {
		return nil, ErrAccountExists
	}
	now := time.Now().UTC()
	acct := &Account{
		ID:            id,
		Deposit:       decimal.Zero,
		FrozenDeposit: decimal.Zero,
		Silver:        decimal.Zero,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	m.accounts[id] = acct
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) GetAccount(ctx context.Context, id string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, ErrAccountNotFound
	}
	cp := *acct
	return &cp, nil
}

func (m *MemoryStore) Commit(ctx context.Context, id string, plan PlanFunc) (*Account, []*FinanceRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	acct, ok := m.accounts[id]
	if !ok {
		return nil, nil, ErrAccountNotFound
	}

	postings, err := plan(*acct)
	if err != nil {
		return nil, nil, err
	}
	next, records, err := applyPostings(*acct, postings, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	*acct = next
	m.records[id] = append(m.records[id], records...)

	cp := next
	return &cp, cloneRecords(records), nil
}

func (m *MemoryStore) ListRecords(ctx context.Context, accountID string, limit, offset int) ([]*FinanceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	all := m.records[accountID]
	result := make([]*FinanceRecord, 0, limit)
	for i := len(all) - 1 - offset; i >= 0 && len(result) < limit; i-- {
		cp := *all[i]
		result = append(result, &cp)
	}
	return result, nil
}

func (m *MemoryStore) ListAccounts(ctx context.Context, limit, offset int) ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]string, 0, len(m.accounts))
	for id := range m.accounts {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	result := make([]*Account, 0, limit)
	for i := offset; i < len(ids) && len(result) < limit; i++ {
		cp := *m.accounts[ids[i]]
		result = append(result, &cp)
	}
	return result, nil
}

func cloneRecords(in []*FinanceRecord) []*FinanceRecord {
	out := make([]*FinanceRecord, len(in))
	for i, r := range in {
		cp := *r
		out[i] = &cp
	}
	return out
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
