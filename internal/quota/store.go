package quota

import (
	"context"
	"sync"
	"time"
)

// StoreService is the AppContext service name of a DurableStore.
const StoreService = "store.ledger"

// DurableStore is the persistent side of the ledger.
type DurableStore interface {
	// Load returns the record of a key for a period. found is false when
	// nothing was ever synced for it.
	Load(ctx context.Context, ledger, key, period string) (rec Record, found bool, err error)

	// Apply atomically checks that the stored cursor equals e.From, then adds
	// e.Amount to consumed, moves the cursor to e.To and appends e to the
	// audit trail. It reports false without writing when the cursor moved.
	Apply(ctx context.Context, e Entry) (bool, error)

	// Entries returns the audit trail of a key for a period, oldest first.
	Entries(ctx context.Context, ledger, key, period string) ([]Entry, error)
}

// MemoryStore is an in-process DurableStore.
type MemoryStore struct {
	mu      sync.Mutex
	records map[recordKey]Record
	entries map[recordKey][]Entry
	now     func() time.Time
}

type recordKey struct{ ledger, key, period string }

// Compile-time interface check.
var _ DurableStore = (*MemoryStore)(nil)

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[recordKey]Record),
		entries: make(map[recordKey][]Entry),
		now:     time.Now,
	}
}

// Load implements DurableStore.
func (s *MemoryStore) Load(_ context.Context, ledger, key, period string) (Record, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[recordKey{ledger, key, period}]
	return rec, ok, nil
}

// Apply implements DurableStore.
func (s *MemoryStore) Apply(_ context.Context, e Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rk := recordKey{e.Ledger, e.Key, e.Period}
	rec, ok := s.records[rk]
	if !ok {
		rec = Record{Ledger: e.Ledger, Key: e.Key, Period: e.Period}
	}
	if rec.Cursor != e.From {
		return false, nil
	}
	if e.AppliedAt.IsZero() {
		e.AppliedAt = s.now()
	}
	rec.Consumed += e.Amount
	rec.Cursor = e.To
	rec.SyncedAt = e.AppliedAt
	s.records[rk] = rec
	s.entries[rk] = append(s.entries[rk], e)
	return true, nil
}

// Entries implements DurableStore.
func (s *MemoryStore) Entries(_ context.Context, ledger, key, period string) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	src := s.entries[recordKey{ledger, key, period}]
	out := make([]Entry, len(src))
	copy(out, src)
	return out, nil
}
