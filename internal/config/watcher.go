// Package config provides configuration loading, parsing, and hot-reload for tokengate.
package config

import (
	"context"
	"errors"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// ReloadCallback receives each config that survives a reload. A
// callback error is logged; it does not roll the reload back.
type ReloadCallback func(*Config) error

// ErrWatcherClosed is returned when closing an already closed watcher.
var ErrWatcherClosed = errors.New("config: watcher already closed")

// Watcher reloads the gateway config when its file changes on disk.
// It watches the parent directory rather than the file itself, so
// atomic saves (write temp, rename over) are seen, and it debounces
// the event bursts editors produce.
type Watcher struct {
	ctx       context.Context
	fs        *fsnotify.Watcher
	cancel    context.CancelFunc
	path      string
	callbacks []ReloadCallback
	debounce  time.Duration
	mu        sync.RWMutex
	closed    bool
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay overrides the 100ms default debounce window.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounce = d
	}
}

// NewWatcher prepares a watcher for the config file at path. Watching
// starts when Watch is called.
func NewWatcher(path string, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	w := &Watcher{
		path:     absPath,
		fs:       fs,
		debounce: 100 * time.Millisecond,
		ctx:      ctx,
		cancel:   cancel,
	}

	for _, opt := range opts {
		opt(w)
	}

	// The parent directory, not the file: a renamed-over file is a new
	// inode and a file watch would go stale after the first save.
	dir := filepath.Dir(absPath)
	if err := fs.Add(dir); err != nil {
		if closeErr := fs.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close watcher after add failure")
		}
		return nil, err
	}

	return w, nil
}

// Path returns the absolute path being watched.
func (w *Watcher) Path() string {
	return w.path
}

// OnReload registers cb to run after each successful reload.
// Callbacks run in registration order.
func (w *Watcher) OnReload(cb ReloadCallback) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.callbacks = append(w.callbacks, cb)
}

// debouncer collapses a burst of file events into one reload. Each
// trigger restarts the delay; fire runs only once the burst goes quiet.
type debouncer struct {
	delay time.Duration
	mu    sync.Mutex
	timer *time.Timer
}

func (d *debouncer) trigger(fire func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.delay, fire)
}

func (d *debouncer) stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Watch blocks consuming file events until ctx is canceled, then
// returns nil. Only Write and Create events on the watched file's
// basename count; Chmod churn from indexers and scanners is ignored.
func (w *Watcher) Watch(ctx context.Context) error {
	deb := &debouncer{delay: w.debounce}
	defer deb.stop()

	targetFile := filepath.Base(w.path)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if relevantEvent(event, targetFile) {
				deb.trigger(w.fireReload)
			}

		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("config watcher error")
		}
	}
}

// relevantEvent reports whether event is a Write or Create on the
// watched file.
func relevantEvent(event fsnotify.Event, targetFile string) bool {
	if filepath.Base(event.Name) != targetFile {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create)
}

// fireReload runs from the debounce timer goroutine. A closed watcher
// drops the reload; the timer may outlive Close.
func (w *Watcher) fireReload() {
	select {
	case <-w.ctx.Done():
		return
	default:
	}
	w.reload()
}

// reload parses and validates the file, then fans the new config out
// to the callbacks. A config that fails either step is discarded and
// the previous one stays in effect.
func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("failed to reload config")
		return
	}

	if err := cfg.Validate(); err != nil {
		log.Error().Err(err).Str("path", w.path).Msg("rejected invalid config on reload")
		return
	}

	log.Info().Str("path", w.path).Msg("config file reloaded")

	w.mu.RLock()
	callbacks := slices.Clone(w.callbacks)
	w.mu.RUnlock()

	for _, cb := range callbacks {
		if err := cb(cfg); err != nil {
			log.Error().Err(err).Msg("config reload callback error")
		}
	}
}

// Close stops watching and releases the fsnotify handle.
// Returns ErrWatcherClosed if already closed.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWatcherClosed
	}
	w.closed = true

	// Pending debounce timers check this context before reloading.
	w.cancel()

	return w.fs.Close()
}
