package tokenstore

import (
	"context"
	"fmt"
	"sync"
)

// MemoryStore is a threadsafe in-memory Store. Used as the shared fake in
// tests and for throwaway sandbox runs where durability doesn't matter.
type MemoryStore struct {
	mu      sync.RWMutex
	secrets map[string]string
}

// Compile-time check to ensure MemoryStore implements Store
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		secrets: make(map[string]string),
	}
}

// Read returns the secret stored under name.
func (m *MemoryStore) Read(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	value, ok := m.secrets[name]
	if !ok || value == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return value, nil
}

// Write stores the secret under name.
func (m *MemoryStore) Write(ctx context.Context, name string, value string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.secrets[name] = value
	return nil
}

// Exists reports whether a non-empty secret is stored under name.
func (m *MemoryStore) Exists(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.secrets[name] != "", nil
}

// Delete removes the secret stored under name.
func (m *MemoryStore) Delete(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.secrets, name)
}
