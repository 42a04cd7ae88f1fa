// Package providertest provides test helpers for the provider package.
package providertest

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/flemzord/sgate/internal/provider"
)

// MockProvider is a configurable test double for provider.Provider.
// Set the Func fields to control behavior. All methods are safe for
// concurrent use.
type MockProvider struct {
	InvokeFunc      func(ctx context.Context, call provider.Call) (*provider.Response, error)
	HealthCheckFunc func(ctx context.Context) error

	mu          sync.Mutex
	InvokeCalls int
	HealthCalls int
	LastCall    provider.Call
}

// Compile-time interface checks.
var (
	_ provider.Provider      = (*MockProvider)(nil)
	_ provider.HealthChecker = (*MockProvider)(nil)
)

// Invoke delegates to InvokeFunc and records the call.
func (m *MockProvider) Invoke(ctx context.Context, call provider.Call) (*provider.Response, error) {
	m.mu.Lock()
	m.InvokeCalls++
	m.LastCall = call
	m.mu.Unlock()
	if m.InvokeFunc == nil {
		return nil, errors.New("providertest: InvokeFunc not set")
	}
	return m.InvokeFunc(ctx, call)
}

// HealthCheck delegates to HealthCheckFunc and tracks call count.
func (m *MockProvider) HealthCheck(ctx context.Context) error {
	m.mu.Lock()
	m.HealthCalls++
	m.mu.Unlock()
	if m.HealthCheckFunc == nil {
		return nil
	}
	return m.HealthCheckFunc(ctx)
}

// Calls returns the number of Invoke calls.
func (m *MockProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InvokeCalls
}

// StreamOf returns an InvokeFunc that serves body as an event stream.
func StreamOf(body string) func(context.Context, provider.Call) (*provider.Response, error) {
	return func(context.Context, provider.Call) (*provider.Response, error) {
		return &provider.Response{Stream: io.NopCloser(strings.NewReader(body))}, nil
	}
}

// FailWith returns an InvokeFunc that always fails with err.
func FailWith(err error) func(context.Context, provider.Call) (*provider.Response, error) {
	return func(context.Context, provider.Call) (*provider.Response, error) {
		return nil, err
	}
}
