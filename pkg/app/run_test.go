package app

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/flemzord/sgate/internal/gateway"
	"github.com/flemzord/sgate/internal/provider"
	"github.com/flemzord/sgate/internal/relay"
	"github.com/flemzord/sgate/internal/workflow"
	"github.com/flemzord/sgate/pkg/message"

	_ "github.com/flemzord/sgate/modules/provider/openai_compatible"
	_ "github.com/flemzord/sgate/modules/store/sqlite"
)

const testConfig = `
version: "1"
log:
  level: warn
providers:
  main:
    type: openai_compatible
    base_url: http://127.0.0.1:1/v1
    api_key: sk-test-0123456789abcdefghij
arms:
  - id: chat-a
    instance_id: main
    provider_model_id: gpt-test
    provider: openai
    model: gpt
    cost_per_1k_tokens: 0.5
quota:
  usage:
    default_limit: 100
  budget:
    default_limit: 5000
modules:
  store.sqlite: {}
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "sgate.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestResolveConfigPath_XDGConfigHome(t *testing.T) {
	dir := t.TempDir()
	cfgDir := filepath.Join(dir, "sgate")
	if err := os.MkdirAll(cfgDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	cfgPath := filepath.Join(cfgDir, "sgate.yaml")
	if err := os.WriteFile(cfgPath, []byte("version: \"1\""), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	t.Setenv("XDG_CONFIG_HOME", dir)

	got, err := ResolveConfigPath()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != cfgPath {
		t.Errorf("got %q, want %q", got, cfgPath)
	}
}

func TestResolveConfigPath_NotFound(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/nonexistent/path")
	t.Chdir(t.TempDir())

	if _, err := ResolveConfigPath(); err == nil {
		t.Error("expected error when no config file found")
	}
}

func TestDefaultDataDir_XDGDataHome(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "/custom/data")
	if got, want := DefaultDataDir(), "/custom/data/sgate"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDefaultDataDir_Fallback(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", "")

	home, _ := os.UserHomeDir()
	if got, want := DefaultDataDir(), filepath.Join(home, ".local", "share", "sgate"); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		path string
	}{
		{"missing file", "/nonexistent/config.yaml"},
		{"invalid yaml", writeConfig(t, "not: valid: yaml: [")},
		{"no version", writeConfig(t, "modules:\n  store.sqlite: {}")},
		{"unknown module", writeConfig(t, "version: \"1\"\nmodules:\n  channel.telegram: {}")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, _, err := LoadConfig(tt.path); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func buildTestRuntime(t *testing.T, body string) *Runtime {
	t.Helper()
	cfg, _, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	rt, err := Build(context.Background(), cfg, BuildParams{LogOutput: io.Discard, DataDir: t.TempDir()})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	t.Cleanup(func() { rt.Close(context.Background()) })
	return rt
}

func TestBuild_Wiring(t *testing.T) {
	t.Parallel()

	rt := buildTestRuntime(t, testConfig)

	if got := rt.Providers.Names(); !slices.Equal(got, []string{"main"}) {
		t.Errorf("providers = %v", got)
	}
	if got := rt.Ledgers.Names(); !slices.Equal(got, []string{"budget", "usage"}) {
		t.Errorf("ledgers = %v", got)
	}
	jobs := rt.Scheduler.Jobs()
	for _, want := range []string{"quota_sync:budget", "quota_sync:usage", "ratelimit_sweep"} {
		if !slices.Contains(jobs, want) {
			t.Errorf("job %q not registered (jobs: %v)", want, jobs)
		}
	}

	snap, err := rt.Router.Snapshot(context.Background(), "chat", "gpt")
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	if len(snap) != 1 || snap[0].Arm.ID != "chat-a" || !snap[0].Arm.Active {
		t.Errorf("catalog not synced: %+v", snap)
	}

	if _, ok := rt.App.Context().Service(gateway.ServiceRelay); !ok {
		t.Error("relay service not registered")
	}
	if _, ok := rt.App.Module("store.sqlite"); !ok {
		t.Error("store.sqlite module not loaded")
	}
	if _, ok := rt.App.Module("cron.scheduler"); !ok {
		t.Error("scheduler not appended to the lifecycle")
	}
	if _, ok := rt.App.Module("reload.config"); ok {
		t.Error("reload module appended without a config path")
	}
}

func TestBuild_UpstreamDownIsUpstreamError(t *testing.T) {
	t.Parallel()

	rt := buildTestRuntime(t, testConfig)

	_, err := rt.Relay.Handle(context.Background(), relay.Request{
		ID:      "req-1",
		Channel: workflow.ChannelExternal,
		Account: "acct",
		Model:   "gpt",
		Call:    chatCall("hi"),
	})
	if got := relay.Code(err); got != relay.CodeUpstream {
		t.Errorf("code = %s (err %v), want %s", got, err, relay.CodeUpstream)
	}
}

func TestBuild_SyncLedgers(t *testing.T) {
	t.Parallel()

	rt := buildTestRuntime(t, testConfig)

	usage, err := rt.Ledgers.Get("usage")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if _, err := usage.Consume(context.Background(), "acct", 3); err != nil {
		t.Fatalf("Consume: %v", err)
	}

	results, err := rt.SyncLedgers(context.Background())
	if err != nil {
		t.Fatalf("SyncLedgers: %v", err)
	}
	if len(results["usage"]) != 1 || results["usage"][0].Entry.Amount != 3 {
		t.Errorf("usage results = %+v", results["usage"])
	}

	again, err := rt.SyncLedgers(context.Background())
	if err != nil {
		t.Fatalf("second SyncLedgers: %v", err)
	}
	for _, r := range again["usage"] {
		if r.Entry.Amount != 0 {
			t.Errorf("re-sync moved the cursor again: %+v", r)
		}
	}
}

func TestBuild_OnlyNamespaces(t *testing.T) {
	t.Parallel()

	body := testConfig + `
  gateway.http:
    bind: 127.0.0.1:0
    auth:
      bearer_token: admin
`
	cfg, _, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	rt, err := Build(context.Background(), cfg, BuildParams{
		LogOutput: io.Discard,
		DataDir:   t.TempDir(),
		Only:      []string{"store", "cache"},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer rt.Close(context.Background())

	if _, ok := rt.App.Module("gateway.http"); ok {
		t.Error("gateway loaded despite namespace filter")
	}
	if _, ok := rt.App.Module("store.sqlite"); !ok {
		t.Error("store.sqlite filtered out")
	}
}

func TestBuild_BadProviderConfig(t *testing.T) {
	t.Parallel()

	body := strings.Replace(testConfig, "base_url: http://127.0.0.1:1/v1", "base_url: ''", 1)
	cfg, _, err := LoadConfig(writeConfig(t, body))
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	_, err = Build(context.Background(), cfg, BuildParams{LogOutput: io.Discard, DataDir: t.TempDir()})
	if err == nil || !strings.Contains(err.Error(), "main") {
		t.Errorf("Build error = %v, want provider instance error", err)
	}
}

func TestRun_StopsOnContextDone(t *testing.T) {
	t.Parallel()

	body := testConfig + `
  gateway.http:
    bind: 127.0.0.1:0
    auth:
      bearer_token: admin
`
	path := writeConfig(t, body)
	cfg, _, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("log level = %q", cfg.Log.Level)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if err := Run(ctx, RunParams{ConfigPath: path, DataDir: t.TempDir()}); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestSelectModules(t *testing.T) {
	t.Parallel()

	ids := []string{"store.sqlite", "cache.redis", "gateway.http"}
	if got := selectModules(ids, nil); !slices.Equal(got, ids) {
		t.Errorf("no filter = %v", got)
	}
	if got := selectModules(ids, []string{"store"}); !slices.Equal(got, []string{"store.sqlite"}) {
		t.Errorf("store filter = %v", got)
	}
	if len(ids) != 3 {
		t.Error("input slice modified")
	}
}

func chatCall(text string) provider.Call {
	return provider.Call{
		Capability: provider.CapabilityChat,
		Messages:   []provider.LLMMessage{{Role: message.RoleUser, Content: text}},
	}
}
