package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/admission"
	"github.com/flemzord/sgate/internal/config"
	"github.com/flemzord/sgate/internal/cron"
	"github.com/flemzord/sgate/internal/fastcache"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/provider/providertest"
	"github.com/flemzord/sgate/internal/quota"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
	"github.com/flemzord/sgate/internal/security/securitytest"
	"github.com/flemzord/sgate/internal/telemetry"
	"github.com/flemzord/sgate/pkg/message"
)

const (
	adminToken = "admin-token-0123456789"
	clientKey  = "client-key-0123456789"
	clientAcct = "acct-1"
)

const chatStream = "data: {\"choices\":[{\"delta\":{\"reasoning_content\":\"let me think\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\"Hello\"}}]}\n\n" +
	"data: {\"choices\":[{\"delta\":{\"content\":\" world\"},\"finish_reason\":\"stop\"}]}\n\n" +
	"data: {\"usage\":{\"prompt_tokens\":5,\"completion_tokens\":20,\"total_tokens\":25}}\n\n" +
	"data: [DONE]\n\n"

// upstream serves chatStream for chat calls and one image for image calls.
func upstream(ctx context.Context, call provider.Call) (*provider.Response, error) {
	if call.Capability == provider.CapabilityImage {
		msg := message.Message{
			Role:    message.RoleAssistant,
			Content: []message.ContentBlock{message.NewImageBlock("https://img.example/1.png", "image/png")},
		}
		return &provider.Response{Message: &msg}, nil
	}
	return providertest.StreamOf(chatStream)(ctx, call)
}

func testArm(id, capability, model string) routing.Arm {
	return routing.Arm{
		Identity: routing.Identity{
			ID: id, InstanceID: "main", ProviderModelID: id + "-upstream",
			Provider: "openai_compatible", Capability: capability, Model: model,
		},
		Weight:   1,
		Active:   true,
		Strategy: routing.Strategy{Alpha: 1, Beta: 1},
	}
}

type envConfig struct {
	invoke      func(context.Context, provider.Call) (*provider.Response, error)
	usageLimit  int64
	maxInFlight int64
	rateLimits  security.RateLimitConfig
	health      func(context.Context) error
	appConfig   *config.Config
	basicAuth   bool
	scheduler   bool
}

type testEnv struct {
	g         *Gateway
	srv       *httptest.Server
	store     *routing.MemoryStore
	upstream  *providertest.MockProvider
	cancels   *relay.Cancels
	admission *admission.Controller
	ledgers   quota.Set
	events    func() []security.AuditEvent
}

func newTestEnv(t *testing.T, ec envConfig) *testEnv {
	t.Helper()
	ctx := context.Background()

	store := routing.NewMemoryStore()
	for _, a := range []routing.Arm{
		testArm("chat-a", "chat", "gpt"),
		testArm("img-a", "image", "painter"),
	} {
		if err := store.Upsert(ctx, a); err != nil {
			t.Fatalf("Upsert: %v", err)
		}
	}
	router := routing.NewRouter(store, routing.Config{})

	invoke := ec.invoke
	if invoke == nil {
		invoke = upstream
	}
	mock := &providertest.MockProvider{InvokeFunc: invoke, HealthCheckFunc: ec.health}
	reg := provider.NewRegistry()
	reg.Register("main", mock)

	cache := fastcache.NewMemory()
	cancels := relay.NewCancels(cache, 0)
	maxInFlight := ec.maxInFlight
	if maxInFlight == 0 {
		maxInFlight = 8
	}
	ctrl := admission.NewController(admission.Config{MaxInFlight: maxInFlight})

	usage := ec.usageLimit
	if usage == 0 {
		usage = 1000
	}
	ledgers := quota.NewSet(
		quota.NewLedger(quota.LedgerUsage, quota.Config{Unit: "requests", DefaultLimit: usage}, cache, quota.NewMemoryStore()),
		quota.NewLedger(quota.LedgerBudget, quota.Config{Unit: "tokens", DefaultLimit: 100000}, cache, quota.NewMemoryStore()),
	)

	audit, events := securitytest.NewTestAuditLogger()
	r := relay.New(relay.Deps{
		Admission: ctrl,
		Router:    router,
		Providers: reg,
		Quotas:    ledgers,
		Cancels:   cancels,
	}, relay.Config{Backoff: time.Millisecond, MaxBackoff: time.Millisecond}, relay.WithAudit(audit))

	g := &Gateway{
		config: Config{Auth: AuthConfig{
			BearerToken: adminToken,
			APIKeys:     map[string]string{clientKey: clientAcct},
		}},
		logger:      slog.New(slog.DiscardHandler),
		stats:       &Metrics{},
		now:         time.Now,
		startedAt:   time.Now(),
		relay:       r,
		router:      router,
		providers:   reg,
		ledgers:     ledgers,
		metrics:     telemetry.NewMetrics(),
		audit:       audit,
		rateLimiter: security.NewRateLimiter(ec.rateLimits),
		redactor:    security.NewRedactor(),
		appConfig:   ec.appConfig,
	}
	if ec.basicAuth {
		g.config.Auth.BasicUser = "ops"
		g.config.Auth.BasicPass = "ops-pass"
	}
	g.config.defaults()

	if ec.scheduler {
		s := cron.NewScheduler(slog.New(slog.DiscardHandler))
		for _, name := range ledgers.Names() {
			l, _ := ledgers.Get(name)
			if err := s.RegisterJob(&cron.QuotaSyncJob{Ledger: l}); err != nil {
				t.Fatalf("RegisterJob: %v", err)
			}
		}
		g.scheduler = s
	}

	srv := httptest.NewServer(g.buildRouter())
	t.Cleanup(srv.Close)

	return &testEnv{
		g:         g,
		srv:       srv,
		store:     store,
		upstream:  mock,
		cancels:   cancels,
		admission: ctrl,
		ledgers:   ledgers,
		events:    events,
	}
}

// do sends a request with an optional bearer token and JSON body.
func (e *testEnv) do(t *testing.T, method, path, token string, body any) *http.Response {
	t.Helper()
	return e.doWith(t, method, path, token, body, nil)
}

func (e *testEnv) doWith(t *testing.T, method, path, token string, body any, header http.Header) *http.Response {
	t.Helper()
	var rd io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		rd = bytes.NewBufferString(b)
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	resp, err := e.srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return v
}

func expectError(t *testing.T, resp *http.Response, status int, code string) ErrorBody {
	t.Helper()
	if resp.StatusCode != status {
		t.Fatalf("status = %d, want %d", resp.StatusCode, status)
	}
	body := decode[ErrorBody](t, resp)
	if body.Code != code {
		t.Errorf("code = %q, want %q (message %q)", body.Code, code, body.Message)
	}
	if body.Source != "gateway" {
		t.Errorf("source = %q, want gateway", body.Source)
	}
	return body
}

func chatBody(model string, stream bool) ChatRequest {
	return ChatRequest{
		Model:    model,
		Messages: []provider.LLMMessage{{Role: message.RoleUser, Content: "hi"}},
		Stream:   stream,
	}
}

func mustYAMLNode(t *testing.T, s string) *yaml.Node {
	t.Helper()
	var doc yaml.Node
	if err := yaml.Unmarshal([]byte(s), &doc); err != nil {
		t.Fatalf("yaml.Unmarshal: %v", err)
	}
	if doc.Kind == yaml.DocumentNode && len(doc.Content) > 0 {
		return doc.Content[0]
	}
	return &doc
}
