package session

import (
	"context"
	"sync"
)

// MemoryStore keeps states in process memory.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[Key]*State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[Key]*State)}
}

func (m *MemoryStore) Load(_ context.Context, key Key) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.states[key]
	if !ok {
		return &State{}, nil
	}
	return st.Clone(), nil
}

func (m *MemoryStore) Save(_ context.Context, key Key, st *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.states[key] = st.Clone()
	return nil
}

func (m *MemoryStore) Wipe(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)
	return nil
}
