package routing

import "context"

// StoreService is the AppContext service name of a durable Store.
const StoreService = "store.arms"

// Store persists arms. Implementations must make CompareAndSwap atomic:
// it succeeds only if the stored version equals expectedVersion, and then
// stores arm with Version = expectedVersion+1.
type Store interface {
	Get(ctx context.Context, id string) (Arm, error)
	// List returns arms matching capability and model. Empty values match all.
	List(ctx context.Context, capability, model string) ([]Arm, error)
	CompareAndSwap(ctx context.Context, arm Arm, expectedVersion int64) (bool, error)
	// Upsert inserts the arm or updates its identity, weight, priority,
	// active flag and strategy while preserving stats.
	Upsert(ctx context.Context, arm Arm) error
}
