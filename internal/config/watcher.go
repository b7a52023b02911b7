package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// defaultPollInterval is how often the watcher re-examines the config file.
const defaultPollInterval = 5 * time.Second

// ReloadFunc receives a validated config change together with the [Diff] of
// what changed, so the caller can decide what applies live (knowledge, log
// level) and what needs a restart (graph, tuning).
type ReloadFunc func(old, new *Config, d ConfigDiff)

// Watcher polls a config file and reports validated changes. Polling (mtime
// gate, then sha256) keeps the dependency surface flat; a config file changes
// rarely enough that fsnotify buys nothing here. A rewrite that fails
// validation leaves the last good config in force. Conversations started
// after a reload resolve against the new catalog and knowledge table;
// running conversations keep the config they started with.
type Watcher struct {
	path     string
	interval time.Duration
	onReload ReloadFunc
	log      *slog.Logger

	mu      sync.Mutex
	current *Config
	mtime   time.Time
	sum     [sha256.Size]byte

	done     chan struct{}
	stopOnce sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatchLogger sets the watcher's logger. Defaults to [slog.Default].
func WithWatchLogger(log *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if log != nil {
			w.log = log
		}
	}
}

// NewWatcher loads path immediately and starts polling it in the background.
// onReload may be nil when the caller only wants [Watcher.Current].
func NewWatcher(path string, onReload ReloadFunc, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: defaultPollInterval,
		onReload: onReload,
		log:      slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	if err := w.read(); err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}

	go w.loop()
	return w, nil
}

// Current returns the most recently loaded valid config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop halts polling. Idempotent.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.done)
	})
}

func (w *Watcher) loop() {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			w.refresh()
		}
	}
}

// refresh re-reads the file when its mtime moved and hands a content change
// to the reload callback.
func (w *Watcher) refresh() {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config watcher: stat failed", "path", w.path, "error", err)
		return
	}

	w.mu.Lock()
	seen := w.mtime
	w.mu.Unlock()
	if info.ModTime().Equal(seen) {
		return
	}

	old, changed, err := w.readDetecting()
	if err != nil {
		w.log.Warn("config watcher: keeping previous config", "path", w.path, "error", err)
		return
	}
	if !changed {
		return
	}

	cur := w.Current()
	d := Diff(old, cur)
	w.log.Info("config reloaded",
		"path", w.path,
		"knowledge_changed", d.KnowledgeChanged,
		"log_level_changed", d.LogLevelChanged,
		"restart_required", !d.HotReloadable(),
	)

	// Callback runs outside the lock so it may call Current.
	if w.onReload != nil {
		w.onReload(old, cur, d)
	}
}

// read loads, validates, and stores the file's current content.
func (w *Watcher) read() error {
	_, _, err := w.load()
	return err
}

// readDetecting is read plus change detection against the stored hash. It
// returns the config that was current before the read.
func (w *Watcher) readDetecting() (old *Config, changed bool, err error) {
	w.mu.Lock()
	old = w.current
	prev := w.sum
	w.mu.Unlock()

	_, sum, err := w.load()
	if err != nil {
		return nil, false, err
	}
	return old, sum != prev, nil
}

// load reads and validates the file, then commits config, hash, and mtime
// under the lock. A file that fails validation commits nothing.
func (w *Watcher) load() (*Config, [sha256.Size]byte, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, [sha256.Size]byte{}, err
	}
	sum := sha256.Sum256(data)

	w.mu.Lock()
	w.current = cfg
	w.sum = sum
	w.mtime = info.ModTime()
	w.mu.Unlock()
	return cfg, sum, nil
}
