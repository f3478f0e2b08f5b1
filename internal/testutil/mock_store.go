// mock_store.go - Mock key/value store for testing
package testutil

import (
	"errors"
	"sync"

	"github.com/ismart-scholar/workbench/internal/storage"
)

// ErrInjected is returned by MockStore when a failure is armed.
var ErrInjected = errors.New("injected storage failure")

// MockStore implements storage.Store in memory with failure injection.
type MockStore struct {
	mu       sync.RWMutex
	data     map[string][]byte
	failSet  bool
	failGet  bool
	setCalls int
}

// NewMockStore creates an empty mock store.
func NewMockStore() *MockStore {
	return &MockStore{data: make(map[string][]byte)}
}

func (m *MockStore) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.failGet {
		return nil, false, ErrInjected
	}
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *MockStore) Set(key string, value []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.setCalls++
	if m.failSet {
		return ErrInjected
	}
	m.data[key] = append([]byte(nil), value...)
	return nil
}

func (m *MockStore) Delete(key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MockStore) Close() error { return nil }

// Ensure MockStore implements storage.Store
var _ storage.Store = (*MockStore)(nil)

// Test Helper Methods

// FailSets makes every following Set fail.
func (m *MockStore) FailSets(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failSet = fail
}

// FailGets makes every following Get fail.
func (m *MockStore) FailGets(fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failGet = fail
}

// SetCalls returns how many times Set was called.
func (m *MockStore) SetCalls() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.setCalls
}

// Keys returns the number of stored keys.
func (m *MockStore) Keys() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}
