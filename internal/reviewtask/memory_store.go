package reviewtask

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-memory task store for demo/development mode.
type MemoryStore struct {
	tasks map[string]*Task
	mu    sync.RWMutex
}

// NewMemoryStore creates a new in-memory task store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks: make(map[string]*Task),
	}
}

func (m *MemoryStore) Create(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.tasks[id]
	if !ok {
		return nil, ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (m *MemoryStore) Update(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, ok := m.tasks[t.ID]
	if !ok {
		return ErrTaskNotFound
	}
	if stored.Version != t.Version {
		return ErrConcurrentModification
	}
	t.Version++
	m.tasks[t.ID] = t.Clone()
	return nil
}

func (m *MemoryStore) List(ctx context.Context, f Filter) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Task
	for _, t := range m.tasks {
		if f.MerchantID != "" && t.MerchantID != f.MerchantID {
			continue
		}
		if f.BuyerID != "" && t.BuyerID != f.BuyerID {
			continue
		}
		if f.State != "" && t.State != f.State {
			continue
		}
		matched = append(matched, t)
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	result := make([]*Task, 0, f.Limit)
	for i := f.Offset; i < len(matched) && len(result) < f.Limit; i++ {
		result = append(result, matched[i].Clone())
	}
	return result, nil
}

func (m *MemoryStore) ListStale(ctx context.Context, state State, before time.Time, limit int) ([]*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var result []*Task
	for _, t := range m.tasks {
		if t.State != state || t.EscalatedAt != nil || t.UploadedAt == nil {
			continue
		}
		if t.UploadedAt.Before(before) {
			result = append(result, t.Clone())
			if len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// Compile-time assertion that MemoryStore implements Store.
var _ Store = (*MemoryStore)(nil)
