package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/internal/security"
)

// Validate checks the structural validity of a Config and reports every
// problem at once. It verifies the version field, that all referenced
// module IDs exist in the registry, that every provider names a compiled
// provider module, and that the arm catalog is consistent.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	for id := range cfg.Modules {
		if core.ModuleID(id).Namespace() == core.ProviderNamespace {
			errs = append(errs, fmt.Errorf("config: module %q must be configured under providers", id))
			continue
		}
		if _, ok := core.GetModule(id); !ok {
			errs = append(errs, fmt.Errorf("config: unknown module %q", id))
		}
	}

	if _, err := security.ParseLevel(cfg.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("config: log.level: %w", err))
	}
	switch cfg.Log.Format {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("config: log.format must be text or json, got %q", cfg.Log.Format))
	}

	if cfg.Admission.MaxInFlight < 0 {
		errs = append(errs, errors.New("config: admission.max_in_flight must not be negative"))
	}
	if cfg.Admission.QueueTimeout < 0 {
		errs = append(errs, errors.New("config: admission.queue_timeout must not be negative"))
	}

	errs = append(errs, validateQuota(cfg)...)
	errs = append(errs, validateProviders(cfg)...)
	errs = append(errs, validateArms(cfg)...)

	return errors.Join(errs...)
}

func validateQuota(cfg *Config) []error {
	var errs []error
	for name, q := range cfg.Quota.Enabled() {
		if err := q.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("config: quota.%s: %w", name, err))
		}
	}
	return errs
}

func validateProviders(cfg *Config) []error {
	var errs []error
	for name, node := range cfg.Providers {
		typ, err := ProviderType(node)
		if err != nil {
			errs = append(errs, fmt.Errorf("config: providers.%s: %w", name, err))
			continue
		}
		if typ == "" {
			errs = append(errs, fmt.Errorf("config: providers.%s: type is required", name))
			continue
		}
		if _, ok := core.GetModule(string(core.ProviderModuleID(typ))); !ok {
			errs = append(errs, fmt.Errorf("config: providers.%s: unknown provider type %q (compiled: %s)",
				name, typ, strings.Join(core.ModuleNames(core.ProviderNamespace), ", ")))
		}
	}
	return errs
}

func validateArms(cfg *Config) []error {
	var errs []error
	seen := make(map[string]struct{}, len(cfg.Arms))

	for i, a := range cfg.Arms {
		where := fmt.Sprintf("config: arms[%d]", i)
		if a.ID != "" {
			where = fmt.Sprintf("config: arm %q", a.ID)
		}

		if a.ID == "" {
			errs = append(errs, fmt.Errorf("%s: id is required", where))
		} else if _, dup := seen[a.ID]; dup {
			errs = append(errs, fmt.Errorf("%s: duplicate id", where))
		}
		seen[a.ID] = struct{}{}

		if a.Model == "" {
			errs = append(errs, fmt.Errorf("%s: model is required", where))
		}
		if a.Capability != "chat" && a.Capability != "image" {
			errs = append(errs, fmt.Errorf("%s: capability must be chat or image, got %q", where, a.Capability))
		}
		if a.InstanceID == "" {
			errs = append(errs, fmt.Errorf("%s: instance_id is required", where))
		} else if _, ok := cfg.Providers[a.InstanceID]; !ok {
			errs = append(errs, fmt.Errorf("%s: unknown provider instance %q", where, a.InstanceID))
		}
		if a.Weight < 0 {
			errs = append(errs, fmt.Errorf("%s: weight must not be negative", where))
		}
		if a.Epsilon < 0 || a.Epsilon > 1 {
			errs = append(errs, fmt.Errorf("%s: epsilon must be in [0, 1]", where))
		}
		if a.Alpha < 0 || a.Beta < 0 {
			errs = append(errs, fmt.Errorf("%s: alpha and beta must not be negative", where))
		}
		if a.CostPer1KTokens < 0 {
			errs = append(errs, fmt.Errorf("%s: cost_per_1k_tokens must not be negative", where))
		}
	}
	return errs
}
