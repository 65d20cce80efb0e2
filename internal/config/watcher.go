package config

import (
	"bytes"
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

const defaultPollInterval = 2 * time.Second

// ChangeHandler is invoked with the previous and the freshly loaded
// configuration whenever the watched file changes and validates.
type ChangeHandler func(old, new *Config)

// Watcher polls a configuration file and reloads it when its content
// changes. Polling keeps the watcher working across editors that replace the
// file instead of writing in place, and across bind mounts where inotify is
// unreliable.
type Watcher struct {
	path     string
	interval time.Duration
	onChange ChangeHandler
	logger   *slog.Logger

	mu      sync.RWMutex
	current *Config
	hash    [sha256.Size]byte
	modTime time.Time
}

// WatcherOption configures a Watcher.
type WatcherOption func(*Watcher)

// WithPollInterval overrides the default poll interval.
func WithPollInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger used for reload events.
func WithWatcherLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		w.logger = logger
	}
}

// NewWatcher loads the configuration at path and returns a watcher primed
// with it. onChange may be nil when only Current is of interest.
func NewWatcher(path string, onChange ChangeHandler, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, hash, modTime, err := loadAndHash(path)
	if err != nil {
		return nil, err
	}
	w.current = cfg
	w.hash = hash
	w.modTime = modTime
	return w, nil
}

// Current returns the most recently loaded configuration.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Run polls the file until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.check()
		}
	}
}

// check reloads the file if it appears to have changed. A failed reload
// keeps the previous configuration in place.
func (w *Watcher) check() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.logger.Warn("config watcher: stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.RLock()
	unchanged := info.ModTime().Equal(w.modTime)
	w.mu.RUnlock()
	if unchanged {
		return
	}

	cfg, hash, modTime, err := loadAndHash(w.path)
	if err != nil {
		w.logger.Warn("config watcher: reload failed, keeping previous config", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	if hash == w.hash {
		// Touched but content identical.
		w.modTime = modTime
		w.mu.Unlock()
		return
	}
	old := w.current
	w.current = cfg
	w.hash = hash
	w.modTime = modTime
	handler := w.onChange
	w.mu.Unlock()

	w.logger.Info("configuration reloaded", "path", w.path)
	if handler != nil {
		handler(old, cfg)
	}
}

// loadAndHash reads, hashes and validates the file in one pass so the stored
// hash always corresponds to the stored config.
func loadAndHash(path string) (*Config, [sha256.Size]byte, time.Time, error) {
	var zero [sha256.Size]byte

	info, err := os.Stat(path)
	if err != nil {
		return nil, zero, time.Time{}, fmt.Errorf("stat config file: %w", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, zero, time.Time{}, fmt.Errorf("read config file: %w", err)
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, zero, time.Time{}, err
	}
	return cfg, sha256.Sum256(data), info.ModTime(), nil
}
