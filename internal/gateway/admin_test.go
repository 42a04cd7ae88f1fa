package gateway

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/config"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/routing"
	"github.com/flemzord/sgate/internal/security"
)

func TestAdmin_ListArms(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	tests := []struct {
		query string
		want  []string
	}{
		{"", []string{"chat-a", "img-a"}},
		{"?capability=image", []string{"img-a"}},
		{"?capability=chat&model=gpt", []string{"chat-a"}},
		{"?model=nothing", []string{}},
	}
	for _, tt := range tests {
		resp := env.do(t, http.MethodGet, "/api/arms"+tt.query, adminToken, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("%q: status = %d", tt.query, resp.StatusCode)
		}
		snaps := decode[[]routing.ArmSnapshot](t, resp)
		if len(snaps) != len(tt.want) {
			t.Fatalf("%q: got %d arms, want %d", tt.query, len(snaps), len(tt.want))
		}
		for i, s := range snaps {
			if s.ID != tt.want[i] {
				t.Errorf("%q: arm[%d] = %q, want %q", tt.query, i, s.ID, tt.want[i])
			}
			if !s.Available {
				t.Errorf("%q: arm %q not available", tt.query, s.ID)
			}
		}
	}
}

func TestAdmin_UpdateArm(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	resp := env.do(t, http.MethodPut, "/api/arms/chat-a", adminToken, `{"weight":2.5,"active":false}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	arm := decode[routing.Arm](t, resp)
	if arm.Weight != 2.5 || arm.Active {
		t.Errorf("arm = weight %v active %v, want 2.5 false", arm.Weight, arm.Active)
	}

	stored, err := env.store.Get(context.Background(), "chat-a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if stored.Weight != 2.5 || stored.Active {
		t.Errorf("stored arm not updated: %+v", stored)
	}

	var found bool
	for _, e := range env.events() {
		if e.Type == security.EventArmUpdate && e.ArmID == "chat-a" {
			found = true
			if e.Metadata["active"] != "false" || e.Metadata["weight"] != "2.5" {
				t.Errorf("audit metadata = %v", e.Metadata)
			}
		}
	}
	if !found {
		t.Error("arm update not audited")
	}

	// The deactivated arm is no longer routable.
	resp = env.do(t, http.MethodPost, "/v1/chat/completions", clientKey, chatBody("gpt", false))
	expectError(t, resp, http.StatusServiceUnavailable, relay.CodeNoAvailableArms)
}

func TestAdmin_UpdateArmErrors(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown arm", "/api/arms/nope", `{"weight":1}`, http.StatusNotFound, codeNotFound},
		{"empty patch", "/api/arms/chat-a", `{}`, http.StatusBadRequest, relay.CodeInvalidRequest},
		{"negative weight", "/api/arms/chat-a", `{"weight":-1}`, http.StatusBadRequest, relay.CodeInvalidRequest},
		{"malformed", "/api/arms/chat-a", `{"weight":`, http.StatusBadRequest, relay.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := env.do(t, http.MethodPut, tt.path, adminToken, tt.body)
			expectError(t, resp, tt.status, tt.code)
		})
	}
}

func TestAdmin_QuotaCounterAndSync(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	if resp := env.do(t, http.MethodPost, "/v1/chat/completions", clientKey, chatBody("gpt", false)); resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}

	resp := env.do(t, http.MethodGet, "/api/quota/usage/"+clientAcct, adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	q := decode[QuotaResponse](t, resp)
	if q.Consumed != 1 || q.Limit != 1000 || q.Cursor != 0 || len(q.Entries) != 0 {
		t.Errorf("before sync: %+v", q)
	}

	resp = env.do(t, http.MethodPost, "/api/quota/usage/sync", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}
	sr := decode[SyncResponse](t, resp)
	if sr.Ledger != "usage" || len(sr.Results) != 1 || !sr.Results[0].Applied {
		t.Errorf("sync response = %+v", sr)
	}

	resp = env.do(t, http.MethodGet, "/api/quota/usage/"+clientAcct, adminToken, nil)
	q = decode[QuotaResponse](t, resp)
	if q.Cursor != 1 || len(q.Entries) != 1 || q.Entries[0].Amount != 1 {
		t.Errorf("after sync: %+v", q)
	}

	// The budget ledger was charged the stream's 25 tokens.
	resp = env.do(t, http.MethodGet, "/api/quota/budget/"+clientKey, adminToken, nil)
	if q := decode[QuotaResponse](t, resp); q.Consumed != 25 {
		t.Errorf("budget consumed = %d, want 25", q.Consumed)
	}
}

func TestAdmin_SyncThroughScheduler(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{scheduler: true})

	if resp := env.do(t, http.MethodPost, "/v1/chat/completions", clientKey, chatBody("gpt", false)); resp.StatusCode != http.StatusOK {
		t.Fatalf("chat status = %d", resp.StatusCode)
	}
	resp := env.do(t, http.MethodPost, "/api/quota/usage/sync", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("sync status = %d, want 200", resp.StatusCode)
	}
	if sr := decode[SyncResponse](t, resp); sr.Status != "synced" {
		t.Errorf("status = %q", sr.Status)
	}

	l, _ := env.ledgers.Get("usage")
	ctr, err := l.Counter(context.Background(), clientAcct)
	if err != nil {
		t.Fatalf("Counter: %v", err)
	}
	if ctr.Cursor != 1 {
		t.Errorf("cursor = %d, want 1", ctr.Cursor)
	}
}

func TestAdmin_UnknownLedger(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	expectError(t, env.do(t, http.MethodGet, "/api/quota/nope/x", adminToken, nil), http.StatusNotFound, codeNotFound)
	expectError(t, env.do(t, http.MethodPost, "/api/quota/nope/sync", adminToken, nil), http.StatusNotFound, codeNotFound)
}

func TestAdmin_Providers(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t, envConfig{})
	out := decode[[]ProviderHealth](t, env.do(t, http.MethodGet, "/api/providers", adminToken, nil))
	if len(out) != 1 || out[0].Name != "main" || out[0].Status != "ok" {
		t.Errorf("providers = %+v", out)
	}

	down := newTestEnv(t, envConfig{health: func(context.Context) error {
		return errors.New("dial sk-abcdefghijklmnopqrstuvwxyz0123: refused")
	}})
	out = decode[[]ProviderHealth](t, down.do(t, http.MethodGet, "/api/providers", adminToken, nil))
	if len(out) != 1 || out[0].Status != "down" {
		t.Fatalf("providers = %+v", out)
	}
	if out[0].Error != "dial "+security.RedactPlaceholder+": refused" {
		t.Errorf("error = %q, want redacted", out[0].Error)
	}
}

func TestAdmin_Modules(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, envConfig{})

	out := decode[[]moduleJSON](t, env.do(t, http.MethodGet, "/api/modules", adminToken, nil))
	var found bool
	for _, m := range out {
		if m.ID == "gateway.http" {
			found = true
			if m.Namespace != "gateway" || m.Name != "http" {
				t.Errorf("module = %+v", m)
			}
		}
	}
	if !found {
		t.Error("gateway.http not listed")
	}
}

func TestAdmin_Config(t *testing.T) {
	t.Parallel()

	bare := newTestEnv(t, envConfig{})
	expectError(t, bare.do(t, http.MethodGet, "/api/config", adminToken, nil), http.StatusServiceUnavailable, codeUnavailable)

	env := newTestEnv(t, envConfig{appConfig: &config.Config{
		Version: "1",
		Security: config.SecurityConfig{
			Secrets: []string{"plain-secret"},
		},
		Providers: map[string]yaml.Node{
			"main": *mustYAMLNode(t, "type: openai_compatible\nbase_url: http://upstream\napi_key: upstream-key\n"),
		},
	}})
	resp := env.do(t, http.MethodGet, "/api/config", adminToken, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	out := decode[map[string]any](t, resp)

	providers, _ := out["providers"].(map[string]any)
	main, _ := providers["main"].(map[string]any)
	if main["api_key"] != security.RedactPlaceholder {
		t.Errorf("api_key = %v, want redacted", main["api_key"])
	}
	if main["base_url"] != "http://upstream" {
		t.Errorf("base_url = %v", main["base_url"])
	}
	if sec, ok := out["security"].(map[string]any); ok {
		if _, leaked := sec["secrets"]; leaked {
			t.Error("secrets list exposed")
		}
	}
}
