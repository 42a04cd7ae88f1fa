package relay

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/provider/providertest"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/security/securitytest"
	"github.com/flemzord/sgate/internal/stream"
	"github.com/flemzord/sgate/internal/workflow"
	"github.com/flemzord/sgate/pkg/message"
)

const chatStream = "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"let me think\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":20,\"total_tokens\":25}}\n\n" +
	"data: [DONE]\n\n"

// stepClock advances by one second on every read.
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

type harness struct {
	relay     *Relay
	store     *routing.MemoryStore
	providers *provider.Registry
	cache     *fastcache.Memory
	cancels   *Cancels
	admission *admission.Controller
	quotas    quota.Set
	events    func() []security.AuditEvent
}

type harnessConfig struct {
	arms        []routing.Arm
	providers   map[string]provider.Provider
	maxInFlight int64
	usageLimit  int64
	budgetLimit int64
	relayCfg    Config
	clock       func() time.Time
}

func chatArm(id, instance string, weight float64) routing.Arm {
	return routing.Arm{
		Identity: routing.Identity{
			ID: id, InstanceID: instance, ProviderModelID: id + "-upstream",
			Provider: "openai_compatible", Capability: "chat", Model: "gpt",
		},
		Weight:   weight,
		Active:   true,
		Strategy: routing.Strategy{Alpha: 1, Beta: 1},
	}
}

func newHarness(t *testing.T, hc harnessConfig) *harness {
	t.Helper()
	ctx := context.Background()

	store := routing.NewMemoryStore()
	for _, a := range hc.arms {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	router := routing.NewRouter(store, routing.Config{})

	reg := provider.NewRegistry()
	for name, p := range hc.providers {
		reg.Register(name, p)
	}

	cache := fastcache.NewMemory()
	cancels := NewCancels(cache, 0)
	ctrl := admission.NewController(admission.Config{MaxInFlight: hc.maxInFlight})

	var ledgers []*quota.Ledger
	if hc.usageLimit > 0 {
		ledgers = append(ledgers, quota.NewLedger(quota.LedgerUsage,
			quota.Config{Unit: "requests", DefaultLimit: hc.usageLimit}, cache, quota.NewMemoryStore()))
	}
	if hc.budgetLimit > 0 {
		ledgers = append(ledgers, quota.NewLedger(quota.LedgerBudget,
			quota.Config{Unit: "tokens", DefaultLimit: hc.budgetLimit}, cache, quota.NewMemoryStore()))
	}
	quotas := quota.NewSet(ledgers...)

	cfg := hc.relayCfg
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
		cfg.MaxBackoff = time.Millisecond
	}
	audit, events := securitytest.NewTestAuditLogger()
	opts := []Option{WithAudit(audit), WithRedactor(security.NewRedactor())}
	if hc.clock != nil {
		opts = append(opts, WithClock(hc.clock))
	}

	r := New(Deps{
		Admission: ctrl,
		Router:    router,
		Providers: reg,
		Quotas:    quotas,
		Cancels:   cancels,
	}, cfg, opts...)

	return &harness{
		relay:     r,
		store:     store,
		providers: reg,
		cache:     cache,
		cancels:   cancels,
		admission: ctrl,
		quotas:    quotas,
		events:    events,
	}
}

func chatRequest(id string, ch workflow.Channel) Request {
	return Request{
		ID:      id,
		Channel: ch,
		Account: "acct",
		APIKey:  "key-1",
		Model:   "gpt",
		Call: provider.Call{
			Capability: provider.CapabilityChat,
			Messages:   []provider.LLMMessage{{Role: message.RoleUser, Content: "hi"}},
		},
	}
}

type deltaSink struct {
	mu     sync.Mutex
	deltas []stream.Delta
}

func (s *deltaSink) add(d stream.Delta) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deltas = append(s.deltas, d)
}

func (s *deltaSink) kinds() map[message.BlockType]int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[message.BlockType]int)
	for _, d := range s.deltas {
		out[d.Kind]++
	}
	return out
}

func streamingProvider(body string) *providertest.MockProvider {
	return &providertest.MockProvider{InvokeFunc: providertest.StreamOf(body)}
}

func armStats(t *testing.T, h *harness, id string) routing.Arm {
	t.Helper()
	a, err := h.store.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get(%s): %v", id, err)
	}
	return a
}
