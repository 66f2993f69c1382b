package snapshot

import (
	"context"
	"sync"

	"github.com/R3E-Network/defi_engine/internal/config"
	"github.com/R3E-Network/defi_engine/internal/engine/registry"
)

// MemoryStore keeps the encoded latest snapshot in process memory. The copy
// is encoded so later pool activity cannot alias it.
type MemoryStore struct {
	mu    sync.RWMutex
	data  []byte
	saves int
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Save replaces the stored snapshot.
func (m *MemoryStore) Save(_ context.Context, snap registry.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data = data
	m.saves++
	m.mu.Unlock()
	return nil
}

// Load returns the stored snapshot.
func (m *MemoryStore) Load(_ context.Context) (registry.Snapshot, error) {
	m.mu.RLock()
	data := m.data
	m.mu.RUnlock()
	if data == nil {
		return registry.Snapshot{}, ErrNoSnapshot
	}
	return decode(data)
}

// Saves returns how many snapshots were written.
func (m *MemoryStore) Saves() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saves
}

func (m *MemoryStore) Backend() string { return config.BackendMemory }

func (m *MemoryStore) Close() error { return nil }
