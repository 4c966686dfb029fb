package config

import (
	"context"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// DefaultWatchInterval is how often a [Watcher] stats the config file.
const DefaultWatchInterval = 5 * time.Second

// Watcher reloads a config file when its content changes and hands each new
// valid configuration to a callback together with the one it replaces.
// Edits that fail to parse or validate are logged and skipped; the last good
// configuration stays current.
type Watcher struct {
	path     string
	interval time.Duration
	lookup   func(string) (string, bool)
	onChange func(old, updated *Config)

	mu   sync.Mutex
	last snapshot

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// snapshot is the last configuration accepted from disk.
type snapshot struct {
	cfg     *Config
	sum     [sha256.Size]byte
	modTime time.Time
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. Default: [DefaultWatchInterval].
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithEnvLookup replaces [os.LookupEnv] as the source of environment
// overrides applied to every reload.
func WithEnvLookup(lookup func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = lookup }
}

// NewWatcher loads path once and polls it in the background until Stop.
func NewWatcher(path string, onChange func(old, updated *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: DefaultWatchInterval,
		lookup:   os.LookupEnv,
		onChange: onChange,
	}
	for _, opt := range opts {
		opt(w)
	}

	snap, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.last = snap

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.wg.Add(1)
	go w.run(ctx)
	return w, nil
}

// Current returns the last configuration accepted from disk.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.last.cfg
}

// Stop ends polling and waits for an in-flight reload callback to return.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.cancel()
	w.wg.Wait()
}

func (w *Watcher) run(ctx context.Context) {
	defer w.wg.Done()
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			old, updated, err := w.reload()
			switch {
			case err != nil:
				slog.Warn("config reload skipped, keeping previous configuration", "path", w.path, "err", err)
			case updated != nil:
				slog.Info("configuration reloaded", "path", w.path)
				if w.onChange != nil {
					w.onChange(old, updated)
				}
			}
		}
	}
}

// reload re-reads the file if its modification time moved. It returns the
// replaced and new configs when the content changed, and nils otherwise.
func (w *Watcher) reload() (old, updated *Config, err error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, err
	}
	w.mu.Lock()
	unchanged := info.ModTime().Equal(w.last.modTime)
	w.mu.Unlock()
	if unchanged {
		return nil, nil, nil
	}

	snap, err := w.read()
	if err != nil {
		return nil, nil, err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if snap.sum == w.last.sum {
		// Touched but not edited.
		w.last.modTime = snap.modTime
		return nil, nil, nil
	}
	old = w.last.cfg
	w.last = snap
	return old, snap.cfg, nil
}

func (w *Watcher) read() (snapshot, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return snapshot{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return snapshot{}, err
	}
	cfg, err := parse(data, w.lookup)
	if err != nil {
		return snapshot{}, err
	}
	return snapshot{cfg: cfg, sum: sha256.Sum256(data), modTime: info.ModTime()}, nil
}
