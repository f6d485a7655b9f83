// Package reload applies configuration changes to a running server.
// A Watcher notices edits to the config file, a Handler reloads and
// validates it, then hands it to the registered appliers.
package reload

import (
	"context"
	"crypto/sha256"
	"os"
	"sync"
	"sync/atomic"
	"time"
)

const defaultPollInterval = 5 * time.Second

// WatcherConfig configures the file watcher.
type WatcherConfig struct {
	Path string

	// PollInterval defaults to 5 seconds.
	PollInterval time.Duration
}

// Event reports that the watched file changed content.
type Event struct {
	Path   string
	Digest [sha256.Size]byte
}

// Watcher polls a file and emits an Event when its content changes.
// A touch that leaves the bytes identical emits nothing.
type Watcher struct {
	cfg     WatcherConfig
	events  chan Event
	stop    chan struct{}
	stopped chan struct{}

	started   atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewWatcher creates a watcher. Nothing is polled until Start.
func NewWatcher(cfg WatcherConfig) *Watcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	return &Watcher{
		cfg:     cfg,
		events:  make(chan Event, 1),
		stop:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Start begins polling. Only the first call has an effect.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() {
		w.started.Store(true)
		go w.poll(ctx)
	})
}

// Events returns the change channel. It holds at most one pending event;
// changes seen while one is pending are coalesced into it.
func (w *Watcher) Events() <-chan Event {
	return w.events
}

// Stop ends polling and waits for the poll goroutine to exit. Safe to
// call more than once and before Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
	if w.started.Load() {
		<-w.stopped
	}
}

func (w *Watcher) poll(ctx context.Context) {
	defer close(w.stopped)

	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	last, _ := w.digest()
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stop:
			return
		case <-ticker.C:
			sum, ok := w.digest()
			// A missing file is usually an editor mid-save.
			if !ok || sum == last {
				continue
			}
			last = sum
			select {
			case w.events <- Event{Path: w.cfg.Path, Digest: sum}:
			default:
			}
		}
	}
}

func (w *Watcher) digest() ([sha256.Size]byte, bool) {
	raw, err := os.ReadFile(w.cfg.Path)
	if err != nil {
		return [sha256.Size]byte{}, false
	}
	return sha256.Sum256(raw), true
}
