package core

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"
)

// orderModule records Start and Stop calls into a shared log.
type orderModule struct {
	name     string
	log      *[]string
	mu       *sync.Mutex
	startErr error
}

func (m *orderModule) ModuleInfo() ModuleInfo {
	return ModuleInfo{ID: ModuleID("test." + m.name)}
}

func (m *orderModule) record(event string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	*m.log = append(*m.log, event+":"+m.name)
}

func (m *orderModule) Start() error {
	m.record("start")
	return m.startErr
}

func (m *orderModule) Stop(context.Context) error {
	m.record("stop")
	return nil
}

func newOrderApp(names []string, failing string) (*App, *[]string) {
	var (
		log []string
		mu  sync.Mutex
	)
	app := NewApp(NewAppContext(nil, "/data"))
	for _, n := range names {
		m := &orderModule{name: n, log: &log, mu: &mu}
		if n == failing {
			m.startErr = errors.New("boom")
		}
		app.AppendModule(n, m)
	}
	return app, &log
}

func TestApp_StartStopOrder(t *testing.T) {
	t.Parallel()

	app, log := newOrderApp([]string{"store", "relay", "gateway"}, "")
	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()

	want := []string{"start:store", "start:relay", "start:gateway", "stop:gateway", "stop:relay", "stop:store"}
	if !slices.Equal(*log, want) {
		t.Errorf("events = %v, want %v", *log, want)
	}
}

func TestApp_StartFailureStopsStarted(t *testing.T) {
	t.Parallel()

	app, log := newOrderApp([]string{"store", "relay", "gateway"}, "relay")
	if err := app.Start(); err == nil {
		t.Fatal("expected start error")
	}

	want := []string{"start:store", "start:relay", "stop:store"}
	if !slices.Equal(*log, want) {
		t.Errorf("events = %v, want %v", *log, want)
	}
}

// closerModule only implements Stop, like a store opened in Provision.
type closerModule struct {
	stopped bool
}

func (m *closerModule) ModuleInfo() ModuleInfo { return ModuleInfo{ID: "test.closer"} }

func (m *closerModule) Stop(context.Context) error {
	m.stopped = true
	return nil
}

func TestApp_StopReleasesProvisionedModules(t *testing.T) {
	t.Parallel()

	app := NewApp(NewAppContext(nil, "/data"))
	closer := &closerModule{}
	app.AppendModule("closer", closer)

	if err := app.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	app.Stop()
	if !closer.stopped {
		t.Error("module without Start was not stopped")
	}
}

func TestApp_RunStopsOnContextDone(t *testing.T) {
	t.Parallel()

	app, log := newOrderApp([]string{"gateway"}, "")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := app.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	want := []string{"start:gateway", "stop:gateway"}
	if !slices.Equal(*log, want) {
		t.Errorf("events = %v, want %v", *log, want)
	}
}

func TestApp_Module(t *testing.T) {
	t.Parallel()

	app, _ := newOrderApp([]string{"store"}, "")
	if _, ok := app.Module("store"); !ok {
		t.Error("appended module not found")
	}
	if _, ok := app.Module("missing"); ok {
		t.Error("unknown module found")
	}
}
