package reload

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/flemzord/sgate/internal/routing"
)

func TestModule_ReloadsOnFileChange(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "sgate.yaml")
	writeFile(t, path, baseConfig)

	router := routing.NewRouter(routing.NewMemoryStore(), routing.Config{})
	m := NewModule(path, NewHandler(router, nil, nil, nil), WatcherConfig{PollInterval: 20 * time.Millisecond}, nil)
	if got := m.ModuleInfo().ID; got != "reload.config" {
		t.Errorf("ID = %q", got)
	}

	if err := m.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer m.Stop(context.Background()) //nolint:errcheck // test cleanup

	writeFile(t, path, baseConfig+"\n# edited\n")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := router.Snapshot(context.Background(), "chat", "gpt")
		if err != nil {
			t.Fatalf("Snapshot: %v", err)
		}
		if len(snap) == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("catalog not reloaded after file change")
}

func TestModule_StopWithoutStart(t *testing.T) {
	t.Parallel()

	m := NewModule("/nonexistent", NewHandler(routing.NewRouter(routing.NewMemoryStore(), routing.Config{}), nil, nil, nil), WatcherConfig{}, nil)
	if err := m.Stop(context.Background()); err != nil {
		t.Errorf("Stop: %v", err)
	}
}
