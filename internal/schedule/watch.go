package schedule

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses bursts of file events into one run.
const DefaultDebounce = 500 * time.Millisecond

// Watch runs job once at start and again whenever one of paths is written
// or created, after debounce of quiet. Parent directories are watched so
// editors that replace files atomically are still seen.
func Watch(ctx context.Context, paths []string, debounce time.Duration, job Job) error {
	if len(paths) == 0 {
		return fmt.Errorf("watch: no paths")
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	targets := make(map[string]bool, len(paths))
	dirs := make(map[string]bool)
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return fmt.Errorf("watch %q: %w", p, err)
		}
		targets[abs] = true
		dir := filepath.Dir(abs)
		if dirs[dir] {
			continue
		}
		if err := w.Add(dir); err != nil {
			return fmt.Errorf("watch dir %q: %w", dir, err)
		}
		dirs[dir] = true
	}

	r := newRunner(ctx, job)
	r.log.Info("schedule: watching", "files", len(targets), "debounce", debounce)
	r.fire(ctx, "start")

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()
	var changed string
	for {
		select {
		case <-ctx.Done():
			r.wait()
			return nil
		case ev, ok := <-w.Events:
			if !ok {
				r.wait()
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			abs, _ := filepath.Abs(ev.Name)
			if !targets[abs] {
				continue
			}
			changed = abs
			timer.Reset(debounce)
		case <-timer.C:
			r.log.Debug("schedule: file changed", "path", changed)
			r.fire(ctx, "watch")
		case err, ok := <-w.Errors:
			if !ok {
				r.wait()
				return nil
			}
			r.log.Warn("schedule: watcher error", "err", err)
		}
	}
}
