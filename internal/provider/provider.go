package provider

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Provider sends calls to one upstream instance. Concrete implementations
// live in separate packages (e.g., modules/provider/openai_compatible).
type Provider interface {
	// Invoke performs the call. Chat calls return a Stream of
	// "data:"-prefixed events; other capabilities return a Message.
	// Connection and status errors are classified with the sentinels above.
	Invoke(ctx context.Context, call Call) (*Response, error)
}

// HealthChecker is an optional interface for providers that can be
// checked without spending tokens.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Registry maps provider instance names to providers. It is safe for
// concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

// Register adds p under name, replacing any previous entry.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[name] = p
}

// Get returns the provider registered under name.
func (r *Registry) Get(name string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoProvider, name)
	}
	return p, nil
}

// Names returns the registered instance names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for n := range r.providers {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// HealthCheck checks every provider implementing HealthChecker and returns
// one result per checked instance, keyed by name. A nil error means healthy.
// Providers without a health check are absent from the map.
func (r *Registry) HealthCheck(ctx context.Context) map[string]error {
	r.mu.RLock()
	snapshot := make(map[string]Provider, len(r.providers))
	for n, p := range r.providers {
		snapshot[n] = p
	}
	r.mu.RUnlock()

	results := make(map[string]error)
	for name, p := range snapshot {
		if hc, ok := p.(HealthChecker); ok {
			results[name] = hc.HealthCheck(ctx)
		}
	}
	return results
}
