// Package rediscache implements fastcache.Cache on Redis so that several
// gateway replicas share quota counters and cancellation markers.
package rediscache

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/flemzord/sgate/internal/fastcache"
)

// Counters are hashes with balance and consumed fields. Both scripts run
// atomically on the server.
var (
	initScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
	return 0
end
redis.call('HSET', KEYS[1], 'balance', ARGV[1], 'consumed', ARGV[2])
return 1
`)

	decrementScript = redis.NewScript(`
local b = redis.call('HGET', KEYS[1], 'balance')
if not b then
	return {0, 0, 0}
end
b = tonumber(b)
local amount = tonumber(ARGV[1])
if b < amount then
	return {b, 0, 1}
end
b = redis.call('HINCRBY', KEYS[1], 'balance', -amount)
redis.call('HINCRBY', KEYS[1], 'consumed', amount)
return {b, 1, 1}
`)
)

// Cache is a Redis-backed fastcache.Cache.
type Cache struct {
	client   redis.UniversalClient
	counters string
	flags    string
}

// Compile-time interface check.
var _ fastcache.Cache = (*Cache)(nil)

// New connects to Redis and verifies the connection.
func New(ctx context.Context, cfg Config) (*Cache, error) {
	cfg.Defaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	return NewWithClient(client, cfg.Prefix), nil
}

// NewWithClient wraps an existing client.
func NewWithClient(client redis.UniversalClient, prefix string) *Cache {
	return &Cache{
		client:   client,
		counters: prefix + "c:",
		flags:    prefix + "f:",
	}
}

// Ping checks the server.
func (c *Cache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

// Close closes the client.
func (c *Cache) Close() error {
	return c.client.Close()
}

// InitCounter implements fastcache.Cache.
func (c *Cache) InitCounter(ctx context.Context, key string, ctr fastcache.Counter) (bool, error) {
	n, err := initScript.Run(ctx, c.client, []string{c.counters + key}, ctr.Balance, ctr.Consumed).Int64()
	if err != nil {
		return false, fmt.Errorf("redis: init %s: %w", key, err)
	}
	return n == 1, nil
}

// CompareAndDecrement implements fastcache.Cache.
func (c *Cache) CompareAndDecrement(ctx context.Context, key string, amount int64) (int64, bool, error) {
	res, err := decrementScript.Run(ctx, c.client, []string{c.counters + key}, amount).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis: decrement %s: %w", key, err)
	}
	if len(res) != 3 {
		return 0, false, fmt.Errorf("redis: decrement %s: unexpected reply %v", key, res)
	}
	if res[2] == 0 {
		return 0, false, fastcache.ErrCounterMissing
	}
	return res[0], res[1] == 1, nil
}

// Counter implements fastcache.Cache.
func (c *Cache) Counter(ctx context.Context, key string) (fastcache.Counter, bool, error) {
	vals, err := c.client.HMGet(ctx, c.counters+key, "balance", "consumed").Result()
	if err != nil {
		return fastcache.Counter{}, false, fmt.Errorf("redis: read %s: %w", key, err)
	}
	if len(vals) != 2 || vals[0] == nil {
		return fastcache.Counter{}, false, nil
	}
	balance, err := toInt64(vals[0])
	if err != nil {
		return fastcache.Counter{}, false, fmt.Errorf("redis: read %s balance: %w", key, err)
	}
	consumed, err := toInt64(vals[1])
	if err != nil {
		return fastcache.Counter{}, false, fmt.Errorf("redis: read %s consumed: %w", key, err)
	}
	return fastcache.Counter{Balance: balance, Consumed: consumed}, true, nil
}

// Keys implements fastcache.Cache.
func (c *Cache) Keys(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.client.Scan(ctx, 0, escapeGlob(c.counters+prefix)+"*", 256).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), c.counters))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("redis: scan %s: %w", prefix, err)
	}
	// SCAN may return a key more than once.
	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// SetFlag implements fastcache.Cache.
func (c *Cache) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.flags+key, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: set flag %s: %w", key, err)
	}
	return nil
}

// Flag implements fastcache.Cache.
func (c *Cache) Flag(ctx context.Context, key string) (bool, error) {
	err := c.client.Get(ctx, c.flags+key).Err()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("redis: read flag %s: %w", key, err)
	}
	return true, nil
}

func toInt64(v any) (int64, error) {
	switch x := v.(type) {
	case string:
		return strconv.ParseInt(x, 10, 64)
	case int64:
		return x, nil
	case nil:
		return 0, nil
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}

// escapeGlob quotes the SCAN MATCH metacharacters in s.
func escapeGlob(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch r {
		case '*', '?', '[', ']', '\\':
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
