// Package fastcache defines the shared low-latency store used for quota
// counters and cancellation markers. The in-process Memory cache serves
// single-node deployments and tests; the redis module serves clusters.
package fastcache

import (
	"context"
	"errors"
	"time"
)

// Service is the AppContext service name under which a distributed
// Cache is published.
const Service = "cache.fast"

// ErrCounterMissing is returned when decrementing a counter that was never
// initialized or has been evicted.
var ErrCounterMissing = errors.New("counter missing")

// Counter is the fast-path state of one quota key. Balance is what remains
// spendable; Consumed only grows and is the reconciliation cursor.
type Counter struct {
	Balance  int64 `json:"balance"`
	Consumed int64 `json:"consumed"`
}

// Cache is the shared fast store. Every method must be atomic with respect
// to concurrent callers, across processes for distributed implementations.
type Cache interface {
	// InitCounter creates the counter if absent and reports whether it did.
	InitCounter(ctx context.Context, key string, c Counter) (bool, error)

	// CompareAndDecrement subtracts amount from the balance and adds it to
	// consumed if balance >= amount. It reports the resulting balance and
	// whether the decrement happened.
	CompareAndDecrement(ctx context.Context, key string, amount int64) (int64, bool, error)

	// Counter reads a counter. found is false when it does not exist.
	Counter(ctx context.Context, key string) (c Counter, found bool, err error)

	// Keys lists counter keys starting with prefix.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// SetFlag stores a marker that expires after ttl.
	SetFlag(ctx context.Context, key string, ttl time.Duration) error

	// Flag reports whether an unexpired marker exists.
	Flag(ctx context.Context, key string) (bool, error)
}
