package templates

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"time"

	"github.com/fsnotify/fsnotify"
)

const reloadDebounce = 250 * time.Millisecond

// Watch reloads the registry whenever a template document under dirs changes.
// It blocks until ctx is done. Directories that do not exist are skipped. A
// failed reload is logged and the previous snapshot keeps serving.
func (r *Registry) Watch(ctx context.Context, dirs ...string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	watched := 0
	for _, dir := range dirs {
		if _, err := os.Stat(dir); errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
		watched++
	}
	if watched == 0 {
		<-ctx.Done()
		return nil
	}

	var timer *time.Timer
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !isDocument(ev.Name) || !ev.Has(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(reloadDebounce, func() {
				if err := r.Reload(); err != nil {
					r.logger.Error("template reload failed", "err", err)
					return
				}
				r.logger.Info("templates reloaded", "version", r.Version())
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.logger.Warn("template watcher error", "err", err)
		}
	}
}
