package quota

import (
	"fmt"
	"time"
)

// Window decides how consumption is bucketed over time.
type Window string

// Supported windows.
const (
	WindowMonthly  Window = "monthly"
	WindowLifetime Window = "lifetime"
)

// Period returns the bucket label for t.
func (w Window) Period(t time.Time) string {
	if w == WindowMonthly {
		return t.UTC().Format("2006-01")
	}
	return "lifetime"
}

// Valid reports whether w is a known window.
func (w Window) Valid() bool {
	return w == WindowMonthly || w == WindowLifetime
}

// Config describes one ledger.
type Config struct {
	// Unit labels what the ledger counts, e.g. "requests" or "tokens".
	Unit string `yaml:"unit"`

	// DefaultLimit applies to every key without an override.
	DefaultLimit int64 `yaml:"default_limit"`

	// Limits overrides the limit per key.
	Limits map[string]int64 `yaml:"limits"`

	Window Window `yaml:"window"`

	// Schedule is the cron expression of the reconciliation job.
	Schedule string `yaml:"schedule"`

	// SyncConcurrency bounds parallel key syncs. Default: 8.
	SyncConcurrency int `yaml:"sync_concurrency"`
}

func (c *Config) defaults() {
	if c.Window == "" {
		c.Window = WindowMonthly
	}
	if c.SyncConcurrency <= 0 {
		c.SyncConcurrency = 8
	}
}

// Validate checks the ledger configuration.
func (c Config) Validate() error {
	if c.DefaultLimit <= 0 {
		return fmt.Errorf("default_limit must be positive, got %d", c.DefaultLimit)
	}
	for k, v := range c.Limits {
		if v <= 0 {
			return fmt.Errorf("limit for %q must be positive, got %d", k, v)
		}
	}
	if c.Window != "" && !c.Window.Valid() {
		return fmt.Errorf("unknown window %q", c.Window)
	}
	return nil
}

func (c Config) limitFor(key string) int64 {
	if v, ok := c.Limits[key]; ok {
		return v
	}
	return c.DefaultLimit
}

// Record is the durable state of one key in one period. Cursor is the fast
// consumed value already reflected in Consumed.
type Record struct {
	Ledger   string    `json:"ledger"`
	Key      string    `json:"key"`
	Period   string    `json:"period"`
	Consumed int64     `json:"consumed"`
	Cursor   int64     `json:"cursor"`
	SyncedAt time.Time `json:"synced_at,omitzero"`
}

// Entry is one reconciliation step moving the durable cursor from From to To.
type Entry struct {
	Ledger    string    `json:"ledger"`
	Key       string    `json:"key"`
	Period    string    `json:"period"`
	From      int64     `json:"from"`
	To        int64     `json:"to"`
	Amount    int64     `json:"amount"`
	AppliedAt time.Time `json:"applied_at"`
}

// Counter is the combined fast and durable view of a key.
type Counter struct {
	Ledger   string    `json:"ledger"`
	Key      string    `json:"key"`
	Period   string    `json:"period"`
	Limit    int64     `json:"limit"`
	Balance  int64     `json:"balance"`
	Consumed int64     `json:"consumed"`
	Cursor   int64     `json:"last_synced"`
	SyncedAt time.Time `json:"synced_at,omitzero"`
}

// SyncResult reports what one Sync did.
type SyncResult struct {
	Ledger  string `json:"ledger"`
	Key     string `json:"key"`
	Period  string `json:"period"`
	Applied bool   `json:"applied"`
	Entry   Entry  `json:"entry,omitzero"`
}
