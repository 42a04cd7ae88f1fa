package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/flemzord/sgate/internal/core"
	"github.com/flemzord/sgate/pkg/app"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func runParamsFor(path string) app.RunParams {
	return app.RunParams{ConfigPath: path}
}

func TestVersion_ListsModules(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.HasPrefix(out, "sgate dev") {
		t.Errorf("output = %q", out)
	}
	for _, id := range []string{"cache.redis", "gateway.http", "provider.openai_compatible", "store.sqlite"} {
		if !strings.Contains(out, id) {
			t.Errorf("module %s missing from version output", id)
		}
	}
}

func TestConfigCheck(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sgate.yaml")
	body := `
version: "1"
log:
  level: error
providers:
  main:
    type: openai_compatible
    base_url: http://127.0.0.1:1/v1
arms:
  - id: chat-a
    instance_id: main
    provider_model_id: gpt-test
    model: gpt
modules:
  store.sqlite: {}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	out, err := execute(t, "config", "check", path)
	if err != nil {
		t.Fatalf("config check: %v", err)
	}
	if !strings.Contains(out, "Configuration OK (1 providers, 1 arms, 1 modules)") {
		t.Errorf("output = %q", out)
	}
	if !strings.Contains(out, "arm chat-a -> main/gpt-test (gpt)") {
		t.Errorf("arm line missing: %q", out)
	}
}

func TestConfigCheck_Invalid(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sgate.yaml")
	if err := os.WriteFile(path, []byte("version: \"2\"\n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := execute(t, "config", "check", path); err == nil || !strings.Contains(err.Error(), "unsupported version") {
		t.Errorf("error = %v, want version error", err)
	}
}

func TestServiceConfig_AbsoluteConfigPath(t *testing.T) {
	t.Parallel()

	cfg, err := serviceConfig(runParamsFor("sgate.yaml"))
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	if cfg.Name != "sgate" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if len(cfg.Arguments) != 4 || cfg.Arguments[2] != "--config" || !filepath.IsAbs(cfg.Arguments[3]) {
		t.Errorf("Arguments = %v", cfg.Arguments)
	}

	bare, err := serviceConfig(runParamsFor(""))
	if err != nil {
		t.Fatalf("serviceConfig: %v", err)
	}
	if strings.Join(bare.Arguments, " ") != "service run" {
		t.Errorf("Arguments = %v", bare.Arguments)
	}
}

func TestRootCmd_Commands(t *testing.T) {
	t.Parallel()

	var names []string
	for _, c := range rootCmd().Commands() {
		names = append(names, c.Name())
	}
	for _, want := range []string{"version", "start", "config", "quota", "service"} {
		found := false
		for _, n := range names {
			if n == want {
				found = true
			}
		}
		if !found {
			t.Errorf("command %q not registered", want)
		}
	}
	if len(core.GetModules()) == 0 {
		t.Error("no modules compiled in")
	}
}
