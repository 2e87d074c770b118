package config

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"deckhand/internal/logging"
)

// Watcher reloads the config file when it changes on disk and hands the
// result to a callback. Editors usually replace files wholesale
// (write-rename), so it watches the parent directory and filters events
// down to the target name.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	path        string // Absolute config file path
	onReload    func(*Config)
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool
	closeOnce   sync.Once

	stats WatcherStats
}

// WatcherStats tracks watcher activity for debugging.
type WatcherStats struct {
	EventsSeen    int
	Reloads       int
	ReloadErrors  int
	LastEventTime time.Time
}

// NewWatcher creates a watcher for the config file at path. onReload is
// called with the freshly loaded config after each settled change.
func NewWatcher(path string, onReload func(*Config)) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		fw.Close()
		return nil, err
	}
	// Resolve the parent so event paths compare equal on symlinked temp
	// dirs (macOS /tmp).
	if dir, err := filepath.EvalSymlinks(filepath.Dir(abs)); err == nil {
		abs = filepath.Join(dir, filepath.Base(abs))
	}

	return &Watcher{
		watcher:     fw,
		path:        abs,
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 300 * time.Millisecond, // Settle window for rapid saves
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// Start begins watching. Non-blocking; the event loop runs in its own
// goroutine until Stop or ctx cancellation.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil // Already running
	}
	w.running = true
	w.mu.Unlock()

	dir := filepath.Dir(w.path)
	if err := w.watcher.Add(dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Config("config watcher: watching %s for changes to %s", dir, filepath.Base(w.path))

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for its loop to exit. Safe to call
// more than once, and safe after a failed Start.
func (w *Watcher) Stop() {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	w.mu.Unlock()

	if wasRunning {
		close(w.stopCh)
		<-w.doneCh
	}

	w.closeOnce.Do(func() {
		if err := w.watcher.Close(); err != nil {
			logging.Get(logging.CategoryConfig).Error("config watcher: error closing: %v", err)
		}
	})
	logging.Config("config watcher: stopped")
}

// Stats returns a copy of the watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

// run is the main event loop.
func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.ConfigDebug("config watcher: context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryConfig).Error("config watcher: %v", err)

		case <-debounceTicker.C:
			w.processSettled()
		}
	}
}

// handleEvent records a relevant filesystem event for debounced reload.
func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Clean(event.Name) != w.path {
		return
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return // Ignore chmod and remove
	}

	logging.ConfigDebug("config watcher: %s event for %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.EventsSeen++
	w.stats.LastEventTime = time.Now()
	w.debounceMap[w.path] = time.Now()
	w.mu.Unlock()
}

// processSettled reloads once a change has settled past the debounce
// window, collapsing editor write bursts into one reload.
func (w *Watcher) processSettled() {
	w.mu.Lock()
	now := time.Now()
	ready := false
	if t, ok := w.debounceMap[w.path]; ok && now.Sub(t) >= w.debounceDur {
		delete(w.debounceMap, w.path)
		ready = true
	}
	w.mu.Unlock()

	if !ready {
		return
	}

	cfg, err := Load(w.path)
	if err != nil {
		w.mu.Lock()
		w.stats.ReloadErrors++
		w.mu.Unlock()
		logging.ConfigWarn("config watcher: reload failed, keeping previous config: %v", err)
		logging.Audit().ConfigReload(w.path, false, err.Error())
		return
	}
	if err := cfg.Validate(); err != nil {
		w.mu.Lock()
		w.stats.ReloadErrors++
		w.mu.Unlock()
		logging.ConfigWarn("config watcher: invalid config on disk, keeping previous: %v", err)
		logging.Audit().ConfigReload(w.path, false, err.Error())
		return
	}

	w.mu.Lock()
	w.stats.Reloads++
	w.mu.Unlock()

	logging.Config("config watcher: reloaded %s", w.path)
	logging.Audit().ConfigReload(w.path, true, "")

	if w.onReload != nil {
		w.onReload(cfg)
	}
}
