package config

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

const watchDebounce = 300 * time.Millisecond

// Watch reloads the file at path whenever it changes and calls fn with the
// result. The parent directory is watched so editors that replace the file
// on save are still seen. Watch returns once the watcher is running; it
// stops when ctx is cancelled.
func Watch(ctx context.Context, path string, fn func(*Config, error)) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("config watcher: %w", err)
	}
	dir := filepath.Dir(path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	name := filepath.Clean(path)
	go func() {
		defer w.Close()
		var (
			timer   *time.Timer
			timerCh <-chan time.Time
		)
		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != name {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if timer == nil {
					timer = time.NewTimer(watchDebounce)
				} else {
					timer.Reset(watchDebounce)
				}
				timerCh = timer.C
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				fn(nil, err)
			case <-timerCh:
				timerCh = nil
				fn(Load(path))
			}
		}
	}()
	return nil
}
