package routing

import (
	"context"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// MemoryStore keeps arms in process. Each arm lives in its own atomic slot
// so writers to different arms never contend.
type MemoryStore struct {
	mu    sync.RWMutex
	slots map[string]*atomic.Pointer[Arm]
	now   func() time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		slots: make(map[string]*atomic.Pointer[Arm]),
		now:   time.Now,
	}
}

func (s *MemoryStore) slot(id string) *atomic.Pointer[Arm] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.slots[id]
}

// Get returns a copy of the arm.
func (s *MemoryStore) Get(_ context.Context, id string) (Arm, error) {
	sl := s.slot(id)
	if sl == nil {
		return Arm{}, ErrArmNotFound
	}
	return *sl.Load(), nil
}

// List returns copies of matching arms sorted by id.
func (s *MemoryStore) List(_ context.Context, capability, model string) ([]Arm, error) {
	s.mu.RLock()
	out := make([]Arm, 0, len(s.slots))
	for _, sl := range s.slots {
		a := *sl.Load()
		if a.Matches(capability, model) {
			out = append(out, a)
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Arm) int { return strings.Compare(a.ID, b.ID) })
	return out, nil
}

// CompareAndSwap replaces the arm if its version is still expectedVersion.
func (s *MemoryStore) CompareAndSwap(_ context.Context, arm Arm, expectedVersion int64) (bool, error) {
	sl := s.slot(arm.ID)
	if sl == nil {
		return false, ErrArmNotFound
	}
	cur := sl.Load()
	if cur.Version != expectedVersion {
		return false, nil
	}
	next := arm
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	return sl.CompareAndSwap(cur, &next), nil
}

// Upsert adds the arm or refreshes its catalog fields, keeping stats.
func (s *MemoryStore) Upsert(_ context.Context, arm Arm) error {
	s.mu.Lock()
	sl, ok := s.slots[arm.ID]
	if !ok {
		sl = &atomic.Pointer[Arm]{}
		next := arm
		next.Stats = Stats{}
		next.Version = 1
		next.UpdatedAt = s.now()
		sl.Store(&next)
		s.slots[arm.ID] = sl
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	for {
		cur := sl.Load()
		next := *cur
		next.Identity = arm.Identity
		next.Weight = arm.Weight
		next.Priority = arm.Priority
		next.Active = arm.Active
		next.Strategy = arm.Strategy
		next.Version = cur.Version + 1
		next.UpdatedAt = s.now()
		if sl.CompareAndSwap(cur, &next) {
			return nil
		}
	}
}

// Delete removes an arm. Selections already holding it are unaffected.
func (s *MemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.slots[id]; !ok {
		return ErrArmNotFound
	}
	delete(s.slots, id)
	return nil
}
