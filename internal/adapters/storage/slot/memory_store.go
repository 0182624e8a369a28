package slot

import (
	"context"
	"sync"
)

// MemoryStore implements Store in process memory.
// It backs the session storage scope: slots vanish when the process exits.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]map[string]string
}

// NewMemoryStore creates an empty in-memory slot store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{slots: make(map[string]map[string]string)}
}

// Load implements Store.
func (m *MemoryStore) Load(_ context.Context, visitorID, slot string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.slots[visitorID][slot]
	return v, ok, nil
}

// Save implements Store.
func (m *MemoryStore) Save(_ context.Context, visitorID, slot, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byVisitor, ok := m.slots[visitorID]
	if !ok {
		byVisitor = make(map[string]string)
		m.slots[visitorID] = byVisitor
	}
	byVisitor[slot] = value
	return nil
}

// Delete implements Store.
func (m *MemoryStore) Delete(_ context.Context, visitorID, slot string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.slots[visitorID], slot)
	if len(m.slots[visitorID]) == 0 {
		delete(m.slots, visitorID)
	}
	return nil
}

// Visitors returns how many visitors currently hold at least one slot.
func (m *MemoryStore) Visitors() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.slots)
}
