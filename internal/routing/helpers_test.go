package routing

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testArm(id string) Arm {
	return Arm{
		Identity: Identity{ID: id, Capability: "chat", Model: "gpt", Provider: "openai", InstanceID: "default"},
		Weight:   1,
		Active:   true,
		Strategy: Strategy{Alpha: 1, Beta: 1},
	}
}

func seedStore(t *testing.T, arms ...Arm) *MemoryStore {
	t.Helper()
	s := NewMemoryStore()
	for _, a := range arms {
		if err := s.Upsert(context.Background(), a); err != nil {
			t.Fatalf("Upsert(%s): %v", a.ID, err)
		}
	}
	return s
}
