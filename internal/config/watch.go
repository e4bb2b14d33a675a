package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces the bursts of events editors produce on save.
const DefaultDebounce = 200 * time.Millisecond

// Watcher calls a function whenever one of a set of files changes. It
// watches the parent directories, so files may be created, replaced by
// rename, or removed.
type Watcher struct {
	log      *slog.Logger
	files    map[string]struct{}
	debounce time.Duration
}

// NewWatcher watches paths. Directories that do not exist are skipped.
func NewWatcher(paths []string, log *slog.Logger) *Watcher {
	if log == nil {
		log = slog.Default()
	}
	files := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if abs, err := filepath.Abs(p); err == nil {
			files[abs] = struct{}{}
		}
	}
	return &Watcher{log: log, files: files, debounce: DefaultDebounce}
}

// Run blocks until ctx is done, calling onChange after each settled burst
// of changes.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer fw.Close()

	dirs := make(map[string]struct{})
	for f := range w.files {
		dirs[filepath.Dir(f)] = struct{}{}
	}
	watched := 0
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			w.log.Debug("not watching missing config dir", "dir", dir)
			continue
		}
		if err := fw.Add(dir); err != nil {
			w.log.Warn("failed to watch config dir", "dir", dir, "error", err)
			continue
		}
		watched++
	}
	if watched == 0 {
		w.log.Debug("no config directories to watch")
	}

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !w.relevant(ev) {
				continue
			}
			w.log.Debug("config file changed", "path", ev.Name, "op", ev.Op.String())
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", "error", err)
		case <-fire:
			fire = nil
			onChange()
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) &&
		!ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
		return false
	}
	abs, err := filepath.Abs(ev.Name)
	if err != nil {
		return false
	}
	_, ok := w.files[abs]
	return ok
}
