package quota

import (
	"fmt"
	"slices"
)

// Ledger names used by the gateway.
const (
	// LedgerUsage counts requests per account.
	LedgerUsage = "usage"
	// LedgerBudget counts tokens per API key.
	LedgerBudget = "budget"
)

// Set indexes ledgers by name.
type Set map[string]*Ledger

// NewSet builds a set from ledgers.
func NewSet(ledgers ...*Ledger) Set {
	s := make(Set, len(ledgers))
	for _, l := range ledgers {
		s[l.Name()] = l
	}
	return s
}

// Get returns the named ledger.
func (s Set) Get(name string) (*Ledger, error) {
	l, ok := s[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownLedger, name)
	}
	return l, nil
}

// Names returns ledger names in sorted order.
func (s Set) Names() []string {
	names := make([]string, 0, len(s))
	for n := range s {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
