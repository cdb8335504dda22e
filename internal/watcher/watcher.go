// Package watcher subscribes to filesystem changes under a resolved watch set
// and reports them as ChangeEvents.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/zsprackett/devserve/internal/events"
	"github.com/zsprackett/devserve/internal/watchset"
)

// Handler receives each accepted change.
type Handler func(events.ChangeEvent)

// Watcher wraps fsnotify with recursive directory subscription. fsnotify does
// not watch directories recursively, so every directory is added on its own
// and new directories are added as they appear.
type Watcher struct {
	fsw     *fsnotify.Watcher
	set     *watchset.Set
	handler Handler
	logger  *slog.Logger

	mu   sync.Mutex
	dirs map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

// New subscribes to every path in set. Paths that cannot be watched are
// logged and skipped.
func New(set *watchset.Set, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{
		fsw:     fsw,
		set:     set,
		handler: handler,
		logger:  logger,
		dirs:    make(map[string]struct{}),
	}
	for _, p := range set.Paths {
		w.addTree(p)
	}
	return w, nil
}

// Run delivers events until ctx is cancelled or the watcher is closed.
func (w *Watcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("watcher: error", "err", err)
		}
	}
}

// Close stops the filesystem subscription. Safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		w.closeErr = w.fsw.Close()
	})
	return w.closeErr
}

// WatchedDirs returns the number of directories currently subscribed.
func (w *Watcher) WatchedDirs() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

func (w *Watcher) handle(ev fsnotify.Event) {
	if ev.Name == "" || w.set.Ignored(ev.Name) {
		return
	}

	var kind events.Kind
	switch {
	case ev.Has(fsnotify.Create):
		info, err := os.Stat(ev.Name)
		if err == nil && info.IsDir() {
			w.addTree(ev.Name)
			kind = events.KindAddDir
		} else {
			kind = events.KindAdd
		}
	case ev.Has(fsnotify.Write):
		kind = events.KindChange
	case ev.Has(fsnotify.Remove), ev.Has(fsnotify.Rename):
		if w.forget(ev.Name) {
			kind = events.KindUnlinkDir
		} else {
			kind = events.KindUnlink
		}
	default:
		return
	}

	w.logger.Debug("watcher: change", "path", ev.Name, "kind", string(kind))
	if w.handler != nil {
		w.handler(events.ChangeEvent{Path: ev.Name, Kind: kind})
	}
}

func (w *Watcher) addTree(root string) {
	info, err := os.Stat(root)
	if err != nil {
		w.logger.Warn("watcher: cannot watch path", "path", root, "err", err)
		return
	}
	if !info.IsDir() {
		if err := w.fsw.Add(root); err != nil {
			w.logger.Warn("watcher: add failed", "path", root, "err", err)
		}
		return
	}

	walkErr := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == root {
				return err
			}
			w.logger.Warn("watcher: walk failed", "path", p, "err", err)
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.set.Ignored(p) {
			return filepath.SkipDir
		}
		if err := w.fsw.Add(p); err != nil {
			w.logger.Warn("watcher: add failed", "path", p, "err", err)
			return nil
		}
		w.mu.Lock()
		w.dirs[filepath.Clean(p)] = struct{}{}
		w.mu.Unlock()
		return nil
	})
	if walkErr != nil && !errors.Is(walkErr, fs.ErrNotExist) {
		w.logger.Warn("watcher: walk failed", "path", root, "err", walkErr)
	}
}

// forget drops p and everything below it from the known directories and
// reports whether p itself was a directory.
func (w *Watcher) forget(p string) bool {
	p = filepath.Clean(p)
	w.mu.Lock()
	defer w.mu.Unlock()
	_, wasDir := w.dirs[p]
	if !wasDir {
		return false
	}
	prefix := p + string(filepath.Separator)
	for d := range w.dirs {
		if d == p || len(d) > len(prefix) && d[:len(prefix)] == prefix {
			delete(w.dirs, d)
		}
	}
	return true
}
