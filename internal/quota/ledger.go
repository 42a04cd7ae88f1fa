// Package quota accounts consumption against per-key limits. Admission
// decisions run against a fast shared cache; a scheduled sync folds the
// fast counters into durable storage. The durable ledger lags the fast
// path by at most one sync interval.
package quota

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/telemetry"
)

// keyPrefix namespaces quota counters in the fast cache.
const keyPrefix = "quota"

// Option configures a Ledger.
type Option func(*Ledger)

// WithLogger sets the ledger logger.
func WithLogger(l *slog.Logger) Option {
	return func(lg *Ledger) { lg.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(lg *Ledger) { lg.metrics = m }
}

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(lg *Ledger) { lg.now = now }
}

// Ledger tracks one kind of consumption, such as requests per account or
// tokens per API key. It is safe for concurrent use.
type Ledger struct {
	name    string
	cfg     Config
	cache   fastcache.Cache
	store   DurableStore
	logger  *slog.Logger
	metrics *telemetry.Metrics
	now     func() time.Time
}

// NewLedger creates a ledger named name.
func NewLedger(name string, cfg Config, cache fastcache.Cache, store DurableStore, opts ...Option) *Ledger {
	cfg.defaults()
	l := &Ledger{
		name:  name,
		cfg:   cfg,
		cache: cache,
		store: store,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = slog.New(slog.DiscardHandler)
	}
	l.logger = l.logger.With("ledger", name)
	return l
}

// Name returns the ledger name.
func (l *Ledger) Name() string { return l.name }

// Config returns the ledger configuration.
func (l *Ledger) Config() Config { return l.cfg }

func (l *Ledger) cacheKey(period, key string) string {
	return keyPrefix + ":" + l.name + ":" + period + ":" + key
}

// parseCacheKey splits a cache key into period and quota key. Quota keys
// may contain colons.
func (l *Ledger) parseCacheKey(ck string) (period, key string, ok bool) {
	rest, found := strings.CutPrefix(ck, keyPrefix+":"+l.name+":")
	if !found {
		return "", "", false
	}
	return strings.Cut(rest, ":")
}

// ensure seeds the fast counter from the durable record when absent.
func (l *Ledger) ensure(ctx context.Context, key, period string) error {
	ck := l.cacheKey(period, key)
	if _, found, err := l.cache.Counter(ctx, ck); err != nil {
		return fmt.Errorf("reading fast counter: %w", err)
	} else if found {
		return nil
	}

	rec, _, err := l.store.Load(ctx, l.name, key, period)
	if err != nil {
		return fmt.Errorf("loading durable record: %w", err)
	}
	seed := fastcache.Counter{
		Balance:  max(l.cfg.limitFor(key)-rec.Consumed, 0),
		Consumed: rec.Cursor,
	}
	created, err := l.cache.InitCounter(ctx, ck, seed)
	if err != nil {
		return fmt.Errorf("seeding fast counter: %w", err)
	}
	if created {
		l.logger.Debug("fast counter seeded", "key", key, "period", period, "balance", seed.Balance, "cursor", seed.Consumed)
	}
	return nil
}

// Consume takes amount from key's balance and returns what remains. When
// the balance is short nothing is taken and the error wraps ErrQuotaExceeded.
func (l *Ledger) Consume(ctx context.Context, key string, amount int64) (int64, error) {
	if amount <= 0 {
		return l.Available(ctx, key)
	}
	period := l.cfg.Window.Period(l.now())
	ck := l.cacheKey(period, key)

	for attempt := 0; attempt < 2; attempt++ {
		if err := l.ensure(ctx, key, period); err != nil {
			return 0, err
		}
		remaining, ok, err := l.cache.CompareAndDecrement(ctx, ck, amount)
		if errors.Is(err, fastcache.ErrCounterMissing) {
			// Evicted between seed and decrement.
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("decrementing fast counter: %w", err)
		}
		if !ok {
			l.metrics.QuotaRejected(l.name)
			return remaining, fmt.Errorf("%w: %s %q needs %d %s, %d left",
				ErrQuotaExceeded, l.name, key, amount, l.cfg.Unit, remaining)
		}
		l.metrics.QuotaConsumed(l.name, amount)
		return remaining, nil
	}
	return 0, fmt.Errorf("decrementing fast counter: %w", fastcache.ErrCounterMissing)
}

// Available returns key's spendable balance in the current period.
func (l *Ledger) Available(ctx context.Context, key string) (int64, error) {
	c, err := l.Counter(ctx, key)
	if err != nil {
		return 0, err
	}
	return c.Balance, nil
}

// Check returns ErrQuotaExceeded unless at least amount is available.
func (l *Ledger) Check(ctx context.Context, key string, amount int64) error {
	avail, err := l.Available(ctx, key)
	if err != nil {
		return err
	}
	if avail < max(amount, 1) {
		l.metrics.QuotaRejected(l.name)
		return fmt.Errorf("%w: %s %q has %d %s left", ErrQuotaExceeded, l.name, key, avail, l.cfg.Unit)
	}
	return nil
}

// Counter returns the combined view of key in the current period.
func (l *Ledger) Counter(ctx context.Context, key string) (Counter, error) {
	period := l.cfg.Window.Period(l.now())
	if err := l.ensure(ctx, key, period); err != nil {
		return Counter{}, err
	}
	fast, _, err := l.cache.Counter(ctx, l.cacheKey(period, key))
	if err != nil {
		return Counter{}, fmt.Errorf("reading fast counter: %w", err)
	}
	rec, _, err := l.store.Load(ctx, l.name, key, period)
	if err != nil {
		return Counter{}, fmt.Errorf("loading durable record: %w", err)
	}
	return Counter{
		Ledger:   l.name,
		Key:      key,
		Period:   period,
		Limit:    l.cfg.limitFor(key),
		Balance:  fast.Balance,
		Consumed: fast.Consumed,
		Cursor:   rec.Cursor,
		SyncedAt: rec.SyncedAt,
	}, nil
}

// Sync reconciles key for the current period.
func (l *Ledger) Sync(ctx context.Context, key string) (SyncResult, error) {
	return l.syncPeriod(ctx, key, l.cfg.Window.Period(l.now()))
}

// syncPeriod moves the durable cursor up to the fast consumed value. The
// cursor compare-and-swap makes it a no-op when re-run or raced.
func (l *Ledger) syncPeriod(ctx context.Context, key, period string) (SyncResult, error) {
	res := SyncResult{Ledger: l.name, Key: key, Period: period}

	fast, found, err := l.cache.Counter(ctx, l.cacheKey(period, key))
	if err != nil {
		return res, fmt.Errorf("reading fast counter: %w", err)
	}
	if !found {
		return res, nil
	}
	rec, _, err := l.store.Load(ctx, l.name, key, period)
	if err != nil {
		return res, fmt.Errorf("loading durable record: %w", err)
	}
	if fast.Consumed <= rec.Cursor {
		return res, nil
	}

	e := Entry{
		Ledger:    l.name,
		Key:       key,
		Period:    period,
		From:      rec.Cursor,
		To:        fast.Consumed,
		Amount:    fast.Consumed - rec.Cursor,
		AppliedAt: l.now(),
	}
	applied, err := l.store.Apply(ctx, e)
	if err != nil {
		l.metrics.QuotaSyncFailed(l.name)
		return res, fmt.Errorf("applying entry: %w", err)
	}
	if !applied {
		l.logger.Debug("sync raced, cursor already moved", "key", key, "period", period, "from", e.From)
		return res, nil
	}

	l.metrics.QuotaSynced(l.name, e.Amount)
	l.logger.Debug("ledger synced", "key", key, "period", period, "amount", e.Amount, "cursor", e.To)
	res.Applied = true
	res.Entry = e
	return res, nil
}

// SyncAll reconciles every key present in the fast cache, across all
// periods, in parallel. Errors do not stop other keys.
func (l *Ledger) SyncAll(ctx context.Context) ([]SyncResult, error) {
	keys, err := l.cache.Keys(ctx, keyPrefix+":"+l.name+":")
	if err != nil {
		return nil, fmt.Errorf("listing fast counters: %w", err)
	}

	var (
		mu      sync.Mutex
		results []SyncResult
		errs    []error
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(l.cfg.SyncConcurrency)
	for _, ck := range keys {
		period, key, ok := l.parseCacheKey(ck)
		if !ok {
			continue
		}
		g.Go(func() error {
			res, err := l.syncPeriod(gctx, key, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, fmt.Errorf("key %q period %s: %w", key, period, err))
				return nil
			}
			if res.Applied {
				results = append(results, res)
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) > 0 {
		l.logger.Warn("ledger sync incomplete", "failed", len(errs), "synced", len(results))
	}
	return results, errors.Join(errs...)
}

// Entries returns the durable audit trail of key for the current period.
func (l *Ledger) Entries(ctx context.Context, key string) ([]Entry, error) {
	return l.store.Entries(ctx, l.name, key, l.cfg.Window.Period(l.now()))
}
