package config

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Editors often write a file in several steps; wait this long after the last
// event before reloading.
const reloadDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	path    string
	watcher *fsnotify.Watcher
	onLoad  func(Component)
}

// NewWatcher watches path and calls onLoad with every successfully parsed
// revision. The parent directory is watched so that atomic rename-replace
// saves are seen too.
func NewWatcher(path string, onLoad func(Component)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve config path: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(abs)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch config directory: %w", err)
	}

	return &Watcher{
		path:    abs,
		watcher: watcher,
		onLoad:  onLoad,
	}, nil
}

// Run processes file system events until ctx is done.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	slog.Info("Watching config file", "path", w.path)

	var reload <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.relevant(event) {
				continue
			}
			slog.Debug("Config file event", "event", event)
			reload = time.After(reloadDebounce)

		case <-reload:
			reload = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Error("Config watcher error", "error", err)
		}
	}
}

func (w *Watcher) relevant(event fsnotify.Event) bool {
	if filepath.Clean(event.Name) != w.path {
		return false
	}
	return event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)
}

func (w *Watcher) reload() {
	c, err := Load(w.path)
	if err != nil {
		slog.Error("Failed to reload config, keeping previous", "error", err, "path", w.path)
		return
	}
	slog.Info("Config reloaded", "path", w.path)
	w.onLoad(c)
}

// Close stops watching.
func (w *Watcher) Close() error {
	return w.watcher.Close()
}
