package state

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory, thread-safe Store. Checkpoints are lost when
// the process exits.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]*State)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, db string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[db]
	if !ok {
		return nil, ErrStateNotFound
	}
	return st.clone(), nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[st.Database] = st.clone()
	return nil
}
