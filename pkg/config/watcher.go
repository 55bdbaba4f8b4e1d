package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchConfig watches the given files and emits on the returned channel after
// changes settle for one debounce interval. Editors that save atomically
// (write temp file, rename over the original) produce Create events rather
// than Write, so both count as a change. The channel closes when ctx is
// canceled or the underlying watcher dies.
func WatchConfig(ctx context.Context, debounce time.Duration, files ...string) <-chan struct{} {
	changed := make(chan struct{}, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create config watcher", "error", err)
		close(changed)
		return changed
	}

	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	watching := 0
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			slog.Warn("Skipping unwatchable config file", "file", file, "error", err)
			continue
		}
		if err := watcher.Add(abs); err != nil {
			slog.Warn("Skipping unwatchable config file", "file", file, "error", err)
			continue
		}
		watching++
		slog.Debug("Watching config file", "file", abs)
	}
	if watching == 0 {
		watcher.Close()
		close(changed)
		return changed
	}

	go func() {
		defer watcher.Close()
		defer close(changed)

		var settle *time.Timer
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !event.Op.Has(fsnotify.Write) && !event.Op.Has(fsnotify.Create) {
					continue
				}
				if settle != nil {
					settle.Stop()
				}
				settle = time.AfterFunc(debounce, func() {
					slog.Info("Config file changed", "file", event.Name)
					select {
					case changed <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				slog.Error("Config watcher error", "error", err)
			}
		}
	}()

	return changed
}
