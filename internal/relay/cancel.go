package relay

import (
	"context"
	"time"

	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/workflow"
)

// DefaultCancelTTL bounds how long a cancellation marker lives.
const DefaultCancelTTL = 10 * time.Minute

// Cancels stores client cancellation markers in the fast cache so any
// replica running the request observes them.
type Cancels struct {
	cache fastcache.Cache
	ttl   time.Duration
}

// NewCancels creates a cancellation registry. A non-positive ttl uses
// DefaultCancelTTL.
func NewCancels(cache fastcache.Cache, ttl time.Duration) *Cancels {
	if ttl <= 0 {
		ttl = DefaultCancelTTL
	}
	return &Cancels{cache: cache, ttl: ttl}
}

func cancelKey(channel workflow.Channel, account, requestID string) string {
	return "cancel:" + string(channel) + ":" + account + ":" + requestID
}

// Cancel marks a request as canceled.
func (c *Cancels) Cancel(ctx context.Context, channel workflow.Channel, account, requestID string) error {
	return c.cache.SetFlag(ctx, cancelKey(channel, account, requestID), c.ttl)
}

// Canceled reports whether a request was marked canceled.
func (c *Cancels) Canceled(ctx context.Context, channel workflow.Channel, account, requestID string) (bool, error) {
	return c.cache.Flag(ctx, cancelKey(channel, account, requestID))
}

// Checker adapts the registry to the workflow engine.
func (c *Cancels) Checker() workflow.CancelChecker {
	return func(ctx context.Context, wc *workflow.Context) (bool, error) {
		return c.Canceled(ctx, wc.Channel, wc.Account, wc.RequestID)
	}
}
