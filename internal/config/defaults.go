package config

import (
	"time"

	"github.com/flemzord/sgate/internal/quota"
)

// ApplyDefaults fills zero values that depend on more than one section.
// Per-component defaults stay with each component.
func ApplyDefaults(cfg *Config) {
	if cfg.Quota.SyncTimeout <= 0 {
		cfg.Quota.SyncTimeout = time.Minute
	}
	if cfg.Quota.Usage.Unit == "" {
		cfg.Quota.Usage.Unit = "requests"
	}
	if cfg.Quota.Budget.Unit == "" {
		cfg.Quota.Budget.Unit = "tokens"
	}
	for _, q := range []*quota.Config{&cfg.Quota.Usage, &cfg.Quota.Budget} {
		if q.Schedule == "" {
			q.Schedule = "@every 1m"
		}
	}
	for i := range cfg.Arms {
		a := &cfg.Arms[i]
		if a.Capability == "" {
			a.Capability = "chat"
		}
		if a.Weight == 0 {
			a.Weight = 1
		}
		if a.Alpha == 0 {
			a.Alpha = 1
		}
		if a.Beta == 0 {
			a.Beta = 1
		}
	}
	cfg.Relay.Pricing = cfg.Pricing()
}
