package config

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
)

// DefaultWatchInterval is how often [Watcher.Run] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes and passes the
// [ConfigDiff] against the previous config to a callback. Edits that fail to
// parse or validate are logged and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onReload func(d ConfigDiff, cfg *Config)

	mu      sync.Mutex
	current *Config
	stamp   fileStamp
}

// fileStamp identifies one version of the file on disk.
type fileStamp struct {
	mtime time.Time
	size  int64
	sum   uint64
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval of [Watcher.Run].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// NewWatcher loads the config at path. onReload may be nil. Polling starts
// with [Watcher.Run].
func NewWatcher(path string, onReload func(d ConfigDiff, cfg *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		onReload: onReload,
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, stamp, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current = cfg
	w.stamp = stamp
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done. A changed modification time or size
// triggers [Watcher.Reload].
func (w *Watcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		info, err := os.Stat(w.path)
		if err != nil {
			slog.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			continue
		}
		w.mu.Lock()
		same := info.ModTime().Equal(w.stamp.mtime) && info.Size() == w.stamp.size
		w.mu.Unlock()
		if same {
			continue
		}
		if _, _, err := w.Reload(); err != nil {
			slog.Warn("config watcher: keeping previous config", "path", w.path, "err", err)
		}
	}
}

// Reload reads the file now. changed is false when the content is identical
// to the current config; the callback only runs when it is true.
func (w *Watcher) Reload() (d ConfigDiff, changed bool, err error) {
	cfg, stamp, err := w.read()
	if err != nil {
		return ConfigDiff{}, false, err
	}

	w.mu.Lock()
	if stamp.sum == w.stamp.sum {
		w.stamp = stamp
		w.mu.Unlock()
		return ConfigDiff{}, false, nil
	}
	old := w.current
	w.current = cfg
	w.stamp = stamp
	w.mu.Unlock()

	d = Diff(old, cfg)
	slog.Info("config watcher: configuration reloaded",
		"path", w.path,
		"hot", d.PromptChanged || d.SpeakChanged || d.LogLevelChanged,
		"restart_fields", d.RestartFields,
	)
	if w.onReload != nil {
		w.onReload(d, cfg)
	}
	return d, true, nil
}

func (w *Watcher) read() (*Config, fileStamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileStamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, fileStamp{}, err
	}
	return cfg, fileStamp{mtime: info.ModTime(), size: info.Size(), sum: xxhash.Sum64(data)}, nil
}
