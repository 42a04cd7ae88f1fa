// Package reload applies configuration changes to a running gateway: the
// arm catalog and redaction secrets follow the file on disk without a
// restart.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	// ConfigPath is the path to the configuration file to watch.
	ConfigPath string

	// PollInterval is how often to check for file changes.
	// Defaults to 5 seconds if zero.
	PollInterval time.Duration
}

// Event reports that the watched file content changed.
type Event struct {
	ConfigPath string
	Digest     [sha256.Size]byte
}

// Watcher polls a configuration file and emits an Event when its content
// digest changes. Touching the file without changing it emits nothing.
type Watcher struct {
	cfg    WatcherConfig
	events chan Event

	mu      sync.Mutex
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewWatcher creates a new file watcher.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Watcher{
		cfg:    cfg,
		events: make(chan Event, 1),
	}
}

// Start records the current digest and begins polling. Calls after the
// first are no-ops.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.cancel != nil {
		return
	}
	ctx, w.cancel = context.WithCancel(ctx)
	w.stopped = make(chan struct{})

	last, _ := w.digest()
	go w.poll(ctx, last)
}

// Events returns the channel of change events. It holds at most one
// pending event; changes seen while it is full are coalesced.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop stops polling and waits for the goroutine to exit. Safe to call
// multiple times and before Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	cancel, stopped := w.cancel, w.stopped
	w.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-stopped
}

func (w *Watcher) poll(ctx context.Context, last [sha256.Size]byte) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			current, ok := w.digest()
			if !ok || current == last {
				continue
			}
			last = current
			select {
			case w.events <- Event{ConfigPath: w.cfg.ConfigPath, Digest: current}:
			default:
			}
		}
	}
}

// digest hashes the file. A missing or unreadable file reports false so a
// rename-and-replace save is not mistaken for a change.
func (w *Watcher) digest() ([sha256.Size]byte, bool) {
	raw, err := os.ReadFile(w.cfg.ConfigPath)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(raw), true
}
