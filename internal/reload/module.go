package reload

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/flemzord/sgate/internal/core"
)

var (
	_ core.Module  = (*Module)(nil)
	_ core.Starter = (*Module)(nil)
	_ core.Stopper = (*Module)(nil)
)

// Module reloads the configuration when the file changes or the process
// receives SIGHUP.
type Module struct {
	path    string
	handler *Handler
	watcher *Watcher
	logger  *slog.Logger
	signals chan os.Signal

	cancel context.CancelFunc
	done   chan struct{}
}

// NewModule creates the reload lifecycle module for the config at path.
func NewModule(path string, handler *Handler, watch WatcherConfig, logger *slog.Logger) *Module {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	watch.ConfigPath = path
	return &Module{
		path:    path,
		handler: handler,
		watcher: NewWatcher(watch),
		logger:  logger,
		signals: make(chan os.Signal, 1),
	}
}

// ModuleInfo implements core.Module.
func (m *Module) ModuleInfo() core.ModuleInfo {
	return core.ModuleInfo{ID: "reload.config"}
}

// Start implements core.Starter.
func (m *Module) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})

	m.watcher.Start(ctx)
	signal.Notify(m.signals, syscall.SIGHUP)
	go m.loop(ctx)
	return nil
}

func (m *Module) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.signals:
			m.logger.Info("SIGHUP received, reloading configuration")
			m.reload(ctx)
		case <-m.watcher.Events():
			m.logger.Info("config file changed, reloading", "path", m.path)
			m.reload(ctx)
		}
	}
}

func (m *Module) reload(ctx context.Context) {
	if _, err := m.handler.HandleReload(ctx, m.path); err != nil {
		m.logger.Error("reload failed", "error", err)
	}
}

// Stop implements core.Stopper.
func (m *Module) Stop(context.Context) error {
	if m.cancel == nil {
		return nil
	}
	signal.Stop(m.signals)
	m.cancel()
	m.watcher.Stop()
	<-m.done
	return nil
}
