package config

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/vyrodovalexey/secretgw/internal/observability"
)

// ConfigCallback is called with each successfully reloaded configuration.
type ConfigCallback func(*GatewayConfig)

// ErrorCallback is called when a reload fails.
type ErrorCallback func(error)

// Watcher watches the configuration file and reloads it on change.
type Watcher struct {
	path          string
	loader        *Loader
	watcher       *fsnotify.Watcher
	callback      ConfigCallback
	errorCallback ErrorCallback
	logger        observability.Logger
	debounceDelay time.Duration
	lastConfig    *GatewayConfig
	mu            sync.RWMutex
	stopCh        chan struct{}
	stoppedCh     chan struct{}
	running       bool
}

// WatcherOption is a functional option for configuring the watcher.
type WatcherOption func(*Watcher)

// WithDebounceDelay sets the debounce delay for file changes.
func WithDebounceDelay(delay time.Duration) WatcherOption {
	return func(w *Watcher) {
		w.debounceDelay = delay
	}
}

// WithLogger sets the logger for the watcher.
func WithLogger(logger observability.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// WithErrorCallback sets the error callback for the watcher.
func WithErrorCallback(callback ErrorCallback) WatcherOption {
	return func(w *Watcher) {
		w.errorCallback = callback
	}
}

// WithLoader sets the loader used for reloads.
func WithLoader(loader *Loader) WatcherOption {
	return func(w *Watcher) {
		w.loader = loader
	}
}

// NewWatcher creates a new configuration watcher.
func NewWatcher(path string, callback ConfigCallback, opts ...WatcherOption) (*Watcher, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:          absPath,
		loader:        NewLoader(),
		watcher:       fsWatcher,
		callback:      callback,
		debounceDelay: 100 * time.Millisecond,
		logger:        observability.NopLogger(),
		stopCh:        make(chan struct{}),
		stoppedCh:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(w)
	}

	return w, nil
}

// Start loads the file once and begins watching it. The directory is watched
// so that editors replacing the file are seen.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.mu.Unlock()

	cfg, err := w.loader.Load(w.path)
	if err != nil {
		return err
	}

	if err := w.watcher.Add(filepath.Dir(w.path)); err != nil {
		return err
	}

	w.mu.Lock()
	w.lastConfig = cfg
	w.running = true
	w.mu.Unlock()

	w.logger.Info("started watching configuration file",
		observability.String("path", w.path),
	)

	go w.watch(ctx)

	return nil
}

// Stop stops watching the configuration file.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return w.watcher.Close()
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.stoppedCh

	return w.watcher.Close()
}

// GetLastConfig returns the last successfully loaded configuration.
func (w *Watcher) GetLastConfig() *GatewayConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.lastConfig
}

func (w *Watcher) watch(ctx context.Context) {
	defer close(w.stoppedCh)

	var debounceTimer *time.Timer
	var debounceCh <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("config watcher stopped due to context cancellation")
			return

		case <-w.stopCh:
			w.logger.Info("config watcher stopped")
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			debounceTimer, debounceCh = w.handleFileEvent(event, debounceTimer, debounceCh)

		case <-debounceCh:
			debounceCh = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("config watcher error", observability.Error(err))
			if w.errorCallback != nil {
				w.errorCallback(err)
			}
		}
	}
}

// handleFileEvent restarts the debounce timer for writes to the watched file.
func (w *Watcher) handleFileEvent(
	event fsnotify.Event,
	debounceTimer *time.Timer,
	debounceCh <-chan time.Time,
) (timer *time.Timer, ch <-chan time.Time) {
	if filepath.Clean(event.Name) != w.path {
		return debounceTimer, debounceCh
	}
	if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
		return debounceTimer, debounceCh
	}

	w.logger.Debug("config file changed",
		observability.String("path", event.Name),
		observability.String("op", event.Op.String()),
	)

	if debounceTimer != nil {
		debounceTimer.Stop()
	}
	debounceTimer = time.NewTimer(w.debounceDelay)
	return debounceTimer, debounceTimer.C
}

// reload loads the file and hands it to the callback. A file that fails to
// load or validate leaves the previous configuration in place.
func (w *Watcher) reload() {
	if err := w.ForceReload(); err != nil {
		w.logger.Error("configuration reload failed, keeping previous configuration",
			observability.Error(err),
		)
		if w.errorCallback != nil {
			w.errorCallback(err)
		}
		return
	}
	w.logger.Info("configuration reloaded")
}

// ForceReload reloads the configuration immediately.
func (w *Watcher) ForceReload() error {
	cfg, err := w.loader.Load(w.path)
	if err != nil {
		return err
	}

	w.mu.Lock()
	w.lastConfig = cfg
	w.mu.Unlock()

	if w.callback != nil {
		w.callback(cfg)
	}
	return nil
}

// Changes lists the sections that differ between two configurations.
type Changes struct {
	// LogLevel and RateLimit can be applied at runtime.
	LogLevel  bool
	RateLimit bool

	// Restart lists changed sections that only take effect after a restart.
	Restart []string
}

// Diff compares two configurations.
func Diff(prev, next *GatewayConfig) Changes {
	var c Changes
	if prev == nil || next == nil {
		return c
	}

	c.LogLevel = prev.Logging.Level != next.Logging.Level
	c.RateLimit = prev.RateLimitLimit() != next.RateLimitLimit()

	if !reflect.DeepEqual(prev.Vault, next.Vault) {
		c.Restart = append(c.Restart, "vault")
	}
	if prev.RateLimit.Enabled != next.RateLimit.Enabled ||
		prev.RateLimit.Backend != next.RateLimit.Backend ||
		prev.RateLimit.Key != next.RateLimit.Key ||
		!reflect.DeepEqual(prev.RateLimit.Redis, next.RateLimit.Redis) {
		c.Restart = append(c.Restart, "rateLimit")
	}
	if !reflect.DeepEqual(prev.Server, next.Server) {
		c.Restart = append(c.Restart, "server")
	}
	if prev.Logging.Format != next.Logging.Format || prev.Logging.Output != next.Logging.Output {
		c.Restart = append(c.Restart, "logging")
	}
	if prev.Tracing != next.Tracing {
		c.Restart = append(c.Restart, "tracing")
	}
	if prev.Metrics != next.Metrics {
		c.Restart = append(c.Restart, "metrics")
	}
	return c
}
