package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mstrukov/pylon/internal/observability"
)

const defaultDebounceDelay = 100 * time.Millisecond

// ReloadCallback is invoked with the new configuration after a successful
// reload.
type ReloadCallback func(*Config)

// ErrorCallback is invoked when a reload attempt fails.
type ErrorCallback func(error)

// Watcher watches a configuration file and reloads it on change. Events are
// debounced because editors typically produce several writes per save.
type Watcher struct {
	path          string
	watcher       *fsnotify.Watcher
	callback      ReloadCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration

	mu         sync.RWMutex
	lastConfig *Config
	running    bool

	stopCh    chan struct{}
	stoppedCh chan struct{}
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay overrides the debounce delay.
func WithDebounceDelay(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = d
	}
}

// WithWatcherLogger sets the logger used by the watcher.
func WithWatcherLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the callback invoked on reload failures.
func WithErrorCallback(cb ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = cb
	}
}

// NewWatcher creates a watcher for the configuration file at path. The
// callback receives every successfully reloaded configuration.
func NewWatcher(path string, callback ReloadCallback, opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolving config path: %w", err)
	}
	w := &Watcher{
		path:          abs,
		callback:      callback,
		logger:        observability.NopLogger(),
		debounceDelay: defaultDebounceDelay,
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start loads the initial configuration and begins watching for changes.
func (w *Watcher) Start() error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("watcher already running")
	}
	w.mu.Unlock()

	cfg, err := Load(w.path)
	if err != nil {
		return fmt.Errorf("loading initial config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return fmt.Errorf("validating initial config: %w", err)
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	// Watch the directory, not the file. Atomic saves replace the file and
	// would otherwise drop the watch.
	if err := fsWatcher.Add(filepath.Dir(w.path)); err != nil {
		fsWatcher.Close()
		return fmt.Errorf("watching config directory: %w", err)
	}

	w.mu.Lock()
	w.watcher = fsWatcher
	w.lastConfig = cfg
	w.running = true
	w.mu.Unlock()

	go w.watch()

	w.logger.Info("config watcher started", observability.String("path", w.path))
	return nil
}

// Stop stops the watcher and waits for the watch loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh
	w.watcher.Close()
	w.logger.Info("config watcher stopped")
}

// ForceReload reloads the configuration immediately, bypassing the
// filesystem event path.
func (w *Watcher) ForceReload() {
	w.reload()
}

// LastConfig returns the most recently loaded valid configuration.
func (w *Watcher) LastConfig() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

func (w *Watcher) watch() {
	defer close(w.stoppedCh)

	var debounce *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(w.debounceDelay)
				debounceCh = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(w.debounceDelay)
			}

		case <-debounceCh:
			debounce = nil
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", observability.Error(err))

		case <-w.stopCh:
			if debounce != nil {
				debounce.Stop()
			}
			return
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
		return false
	}
	eventPath, err := filepath.Abs(event.Name)
	if err != nil {
		return false
	}
	return eventPath == w.path
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.reportError(fmt.Errorf("reloading config: %w", err))
		return
	}
	if err := Validate(cfg); err != nil {
		w.reportError(fmt.Errorf("validating reloaded config: %w", err))
		return
	}

	w.mu.Lock()
	w.lastConfig = cfg
	w.mu.Unlock()

	w.logger.Info("config reloaded", observability.String("path", w.path))
	if w.callback != nil {
		w.callback(cfg)
	}
}

func (w *Watcher) reportError(err error) {
	w.logger.Warn("config reload failed", observability.Error(err))
	if w.errorCallback != nil {
		w.errorCallback(err)
	}
}
