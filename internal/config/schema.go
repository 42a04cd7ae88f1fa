// Package config handles YAML configuration loading, environment variable
// expansion, defaults, and structural validation for sgate.
package config

import (
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
)

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// DataDir holds the durable store. Default: $XDG_DATA_HOME/sgate.
	DataDir string `yaml:"data_dir"`

	Log       security.LogConfig `yaml:"log"`
	Telemetry TelemetryConfig    `yaml:"telemetry"`
	Security  SecurityConfig     `yaml:"security"`

	Admission admission.Config `yaml:"admission"`
	Routing   routing.Config   `yaml:"routing"`
	Relay     relay.Config     `yaml:"relay"`
	Quota     QuotaConfig      `yaml:"quota"`

	// Providers maps instance names to their raw configuration. Each node
	// carries a "type" naming a provider module, e.g. "openai_compatible".
	Providers map[string]yaml.Node `yaml:"providers"`

	// Arms is the routing catalog upserted into the arm store at startup.
	Arms []ArmConfig `yaml:"arms"`

	// Modules maps module IDs to their raw YAML configuration.
	// Keys must match registered module IDs (e.g. "gateway.http").
	Modules map[string]yaml.Node `yaml:"modules"`
}

// TelemetryConfig configures tracing export.
type TelemetryConfig struct {
	ServiceName  string `yaml:"service_name"`
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	Insecure     bool   `yaml:"insecure"`
}

// SecurityConfig holds audit and rate limiting settings.
type SecurityConfig struct {
	// AuditLog is a JSONL file receiving audit events. Empty writes them
	// to the application log only.
	AuditLog   string                   `yaml:"audit_log"`
	RateLimits security.RateLimitConfig `yaml:"rate_limits"`

	// Secrets are literal values redacted from logs and external
	// responses in addition to the built-in key patterns.
	Secrets []string `yaml:"secrets"`
}

// QuotaConfig configures the two ledgers. A ledger with a zero
// default_limit is disabled.
type QuotaConfig struct {
	Usage  quota.Config `yaml:"usage"`
	Budget quota.Config `yaml:"budget"`

	// SyncTimeout bounds one reconciliation run. Default: 1m.
	SyncTimeout time.Duration `yaml:"sync_timeout"`
}

// Enabled returns the ledgers that have a limit, keyed by name.
func (q QuotaConfig) Enabled() map[string]quota.Config {
	out := make(map[string]quota.Config, 2)
	if q.Usage.DefaultLimit > 0 {
		out[quota.LedgerUsage] = q.Usage
	}
	if q.Budget.DefaultLimit > 0 {
		out[quota.LedgerBudget] = q.Budget
	}
	return out
}

// ArmConfig is one catalog entry.
type ArmConfig struct {
	routing.Identity `yaml:",inline"`

	Weight   float64 `yaml:"weight"`
	Priority int     `yaml:"priority"`
	// Active defaults to true.
	Active *bool `yaml:"active"`

	Epsilon float64 `yaml:"epsilon"`
	Alpha   float64 `yaml:"alpha"`
	Beta    float64 `yaml:"beta"`

	CostPer1KTokens float64 `yaml:"cost_per_1k_tokens"`
}

// Arm converts the entry into a catalog arm without statistics.
func (a ArmConfig) Arm() routing.Arm {
	active := a.Active == nil || *a.Active
	return routing.Arm{
		Identity: a.Identity,
		Weight:   a.Weight,
		Priority: a.Priority,
		Active:   active,
		Strategy: routing.Strategy{Epsilon: a.Epsilon, Alpha: a.Alpha, Beta: a.Beta},
	}
}

// Pricing maps arm ids to their cost per 1000 tokens.
func (c *Config) Pricing() map[string]float64 {
	out := make(map[string]float64, len(c.Arms))
	for _, a := range c.Arms {
		if a.CostPer1KTokens > 0 {
			out[a.ID] = a.CostPer1KTokens
		}
	}
	return out
}

// ProviderType returns the "type" field of a provider instance node.
func ProviderType(node yaml.Node) (string, error) {
	var head struct {
		Type string `yaml:"type"`
	}
	if err := node.Decode(&head); err != nil {
		return "", err
	}
	return head.Type, nil
}
