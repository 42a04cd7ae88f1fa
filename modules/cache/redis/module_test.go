package rediscache

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/flemzord/sgate/internal/core"
)

func TestModule_RequiresAddr(t *testing.T) {
	t.Parallel()

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("prefix: \"x:\"\n"), &node); err != nil {
		t.Fatal(err)
	}
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir()).
		WithModuleConfigs(map[string]yaml.Node{ServiceName: *node.Content[0]})

	_, err := appCtx.LoadModule(ServiceName)
	if err == nil {
		t.Fatal("expected error without addr")
	}
	if !strings.Contains(err.Error(), "addr is required") {
		t.Errorf("error = %v", err)
	}
	if _, ok := appCtx.Service(ServiceName); ok {
		t.Error("service registered despite failed provisioning")
	}
}

func TestModule_PublishesCache(t *testing.T) {
	addr := os.Getenv("SGATE_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("SGATE_TEST_REDIS_ADDR not set")
	}

	var node yaml.Node
	if err := yaml.Unmarshal([]byte("addr: "+addr+"\nprefix: \"sgate-module-test:\"\n"), &node); err != nil {
		t.Fatal(err)
	}
	appCtx := core.NewAppContext(slog.New(slog.DiscardHandler), t.TempDir()).
		WithModuleConfigs(map[string]yaml.Node{ServiceName: *node.Content[0]})

	mod, err := appCtx.LoadModule(ServiceName)
	if err != nil {
		t.Fatalf("LoadModule: %v", err)
	}
	c, ok := core.ServiceAs[*Cache](appCtx, ServiceName)
	if !ok {
		t.Fatal("cache.redis service not registered")
	}
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	if err := mod.(core.Stopper).Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
}
