package config

import (
	"cmp"
	"slices"

	"github.com/flemzord/sgate/internal/core"
)

// namespaceRank orders module namespaces so storage starts before the
// components that use it and the gateway stops first.
var namespaceRank = map[string]int{
	"store":   0,
	"cache":   1,
	"gateway": 9,
}

// Resolve returns the module IDs of the configuration in start order:
// by namespace rank, then by ID.
func Resolve(cfg *Config) []string {
	ids := make([]string, 0, len(cfg.Modules))
	for id := range cfg.Modules {
		ids = append(ids, id)
	}
	slices.SortFunc(ids, func(a, b string) int {
		ra, rb := rank(a), rank(b)
		if ra != rb {
			return cmp.Compare(ra, rb)
		}
		return cmp.Compare(a, b)
	})
	return ids
}

func rank(id string) int {
	if r, ok := namespaceRank[core.ModuleID(id).Namespace()]; ok {
		return r
	}
	return 5
}
