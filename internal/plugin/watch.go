package plugin

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultWatchDebounce is how long the plugins directory must be quiet before
// a change is reported.
const DefaultWatchDebounce = 500 * time.Millisecond

// Watch reports changes under the plugins directory as EventDirectoryChanged
// until ctx is done. The root and each plugin directory are watched; bursts
// are coalesced over debounce. It does not rescan on its own, since a rescan
// stops every running plugin.
func (r *Registry) Watch(ctx context.Context, debounce time.Duration) error {
	if debounce <= 0 {
		debounce = DefaultWatchDebounce
	}
	root := r.loader.Root()
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("create plugins dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer w.Close()

	if err := w.Add(root); err != nil {
		return fmt.Errorf("watch %s: %w", root, err)
	}
	r.watchChildren(w, root)

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
			return nil

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if ignoredPath(root, ev.Name) {
				continue
			}
			if ev.Has(fsnotify.Create) && filepath.Dir(ev.Name) == root {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					_ = w.Add(ev.Name)
				}
			}
			if timer == nil {
				timer = time.NewTimer(debounce)
				timerCh = timer.C
			} else {
				timer.Reset(debounce)
			}

		case <-timerCh:
			timer, timerCh = nil, nil
			r.log.Debug("Plugins directory changed")
			r.emitEvent(Event{Type: EventDirectoryChanged})

		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			r.log.WithError(err).Warn("Plugin directory watcher error")
		}
	}
}

func (r *Registry) watchChildren(w *fsnotify.Watcher, root string) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return
	}
	for _, e := range entries {
		if e.IsDir() && !skipDir(e.Name()) {
			if err := w.Add(filepath.Join(root, e.Name())); err != nil {
				r.log.WithError(err).WithField("dir", e.Name()).Debug("Cannot watch plugin directory")
			}
		}
	}
}

// ignoredPath reports whether name lies in a dot or staging directory.
func ignoredPath(root, name string) bool {
	rel, err := filepath.Rel(root, name)
	if err != nil {
		return true
	}
	first := strings.SplitN(filepath.ToSlash(rel), "/", 2)[0]
	return skipDir(first)
}
