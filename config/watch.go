package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// WatchFile watches triggerPath (an operator-touched file, not the config
// itself — the config lives in the database) for writes/creates/renames
// and reloads the snapshot from the Persister on each debounced change.
// It is a no-op if triggerPath is empty. The watcher stops when ctx is
// canceled.
func (s *Store) WatchFile(ctx context.Context, triggerPath string) error {
	if triggerPath == "" {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(triggerPath)
	name := filepath.Base(triggerPath)
	if err := watcher.Add(dir); err != nil {
		_ = watcher.Close()
		return err
	}

	go s.watchLoop(ctx, watcher, name)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, name string) {
	defer watcher.Close()

	const debounce = 500 * time.Millisecond
	var timer *time.Timer

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != name {
				continue
			}
			if !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename)) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				if err := s.Load(ctx); err != nil {
					slog.Error("config hot reload failed", "error", err)
					return
				}
				s.notify()
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Error("config watcher error", "error", err)
		}
	}
}
