// Package routingtest provides test doubles for the routing package.
package routingtest

import (
	"context"
	"sync"

	"github.com/flemzord/sgate/internal/routing"
)

// MockStore is a configurable test double for routing.Store. Unset funcs
// fall back to an embedded MemoryStore. All methods are safe for
// concurrent use.
type MockStore struct {
	GetFunc            func(ctx context.Context, id string) (routing.Arm, error)
	ListFunc           func(ctx context.Context, capability, model string) ([]routing.Arm, error)
	CompareAndSwapFunc func(ctx context.Context, arm routing.Arm, expectedVersion int64) (bool, error)
	UpsertFunc         func(ctx context.Context, arm routing.Arm) error

	Mem *routing.MemoryStore

	mu       sync.Mutex
	CASCalls int
}

// Compile-time interface check.
var _ routing.Store = (*MockStore)(nil)

// NewMockStore returns a mock backed by a fresh MemoryStore.
func NewMockStore() *MockStore {
	return &MockStore{Mem: routing.NewMemoryStore()}
}

// Get implements routing.Store.
func (m *MockStore) Get(ctx context.Context, id string) (routing.Arm, error) {
	if m.GetFunc != nil {
		return m.GetFunc(ctx, id)
	}
	return m.Mem.Get(ctx, id)
}

// List implements routing.Store.
func (m *MockStore) List(ctx context.Context, capability, model string) ([]routing.Arm, error) {
	if m.ListFunc != nil {
		return m.ListFunc(ctx, capability, model)
	}
	return m.Mem.List(ctx, capability, model)
}

// CompareAndSwap implements routing.Store and counts calls.
func (m *MockStore) CompareAndSwap(ctx context.Context, arm routing.Arm, expectedVersion int64) (bool, error) {
	m.mu.Lock()
	m.CASCalls++
	m.mu.Unlock()
	if m.CompareAndSwapFunc != nil {
		return m.CompareAndSwapFunc(ctx, arm, expectedVersion)
	}
	return m.Mem.CompareAndSwap(ctx, arm, expectedVersion)
}

// Upsert implements routing.Store.
func (m *MockStore) Upsert(ctx context.Context, arm routing.Arm) error {
	if m.UpsertFunc != nil {
		return m.UpsertFunc(ctx, arm)
	}
	return m.Mem.Upsert(ctx, arm)
}

// CASCount returns the number of CompareAndSwap calls.
func (m *MockStore) CASCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.CASCalls
}
