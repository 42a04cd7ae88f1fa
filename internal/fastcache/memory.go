package fastcache

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

// Memory is an in-process Cache.
type Memory struct {
	mu       sync.Mutex
	counters map[string]Counter
	flags    map[string]time.Time
	now      func() time.Time
}

// Compile-time interface check.
var _ Cache = (*Memory)(nil)

// NewMemory returns an empty in-process cache.
func NewMemory() *Memory {
	return &Memory{
		counters: make(map[string]Counter),
		flags:    make(map[string]time.Time),
		now:      time.Now,
	}
}

// InitCounter implements Cache.
func (m *Memory) InitCounter(_ context.Context, key string, c Counter) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.counters[key]; ok {
		return false, nil
	}
	m.counters[key] = c
	return true, nil
}

// CompareAndDecrement implements Cache.
func (m *Memory) CompareAndDecrement(_ context.Context, key string, amount int64) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok {
		return 0, false, ErrCounterMissing
	}
	if c.Balance < amount {
		return c.Balance, false, nil
	}
	c.Balance -= amount
	c.Consumed += amount
	m.counters[key] = c
	return c.Balance, true, nil
}

// Counter implements Cache.
func (m *Memory) Counter(_ context.Context, key string) (Counter, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	return c, ok, nil
}

// Keys implements Cache.
func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	keys := make([]string, 0, len(m.counters))
	for k := range m.counters {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	m.mu.Unlock()
	slices.Sort(keys)
	return keys, nil
}

// SetFlag implements Cache.
func (m *Memory) SetFlag(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.flags[key] = m.now().Add(ttl)
	return nil
}

// Flag implements Cache. Expired markers are removed on read.
func (m *Memory) Flag(_ context.Context, key string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.flags[key]
	if !ok {
		return false, nil
	}
	if !m.now().Before(exp) {
		delete(m.flags, key)
		return false, nil
	}
	return true, nil
}
