package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process StateStore. Documents are copied on the way
// in and out so callers cannot mutate stored state.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]State
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]State)}
}

func (m *MemoryStore) Get(_ context.Context, id string) (State, error) {
	if err := ValidateID(id); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.items[id].Clone(), nil
}

func (m *MemoryStore) Set(_ context.Context, id string, st State) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[id] = st.Clone()
	return nil
}

func (m *MemoryStore) Remove(_ context.Context, id string) error {
	if err := ValidateID(id); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.items, id)
	return nil
}

// Len returns the number of stored conversations.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.items)
}
