package catalog

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/livetemplate/tinkerpen"
)

// reloadDelay coalesces the burst of events editors emit on save.
const reloadDelay = 100 * time.Millisecond

// Watcher reloads a catalog when lesson files change.
type Watcher struct {
	watcher  *fsnotify.Watcher
	catalog  *Catalog
	onReload func()
	reload   *tinkerpen.Scheduler
	done     chan struct{}
	logger   *zap.Logger
}

// NewWatcher watches the catalog directory recursively. onReload, if not
// nil, is called after every successful reload.
func NewWatcher(c *Catalog, onReload func(), logger *zap.Logger) (*Watcher, error) {
	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	w := &Watcher{
		watcher:  fsWatcher,
		catalog:  c,
		onReload: onReload,
		done:     make(chan struct{}),
		logger:   logger.Named("watch"),
	}
	w.reload = tinkerpen.NewScheduler(reloadDelay, w.doReload)

	if err := w.addDirectoryRecursive(c.Dir()); err != nil {
		fsWatcher.Close()
		return nil, err
	}

	return w, nil
}

// addDirectoryRecursive adds a directory and all its subdirectories to the watcher.
func (w *Watcher) addDirectoryRecursive(dir string) error {
	return filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		if info.IsDir() {
			if path != dir && strings.HasPrefix(info.Name(), ".") {
				return filepath.SkipDir
			}
			if err := w.watcher.Add(path); err != nil {
				return err
			}
			w.logger.Debug("watching directory", zap.String("dir", path))
		}

		return nil
	})
}

// Start begins watching for file changes.
func (w *Watcher) Start() {
	go func() {
		for {
			select {
			case event, ok := <-w.watcher.Events:
				if !ok {
					return
				}
				w.handle(event)

			case err, ok := <-w.watcher.Errors:
				if !ok {
					return
				}
				w.logger.Error("watch error", zap.Error(err))

			case <-w.done:
				return
			}
		}
	}()
}

func (w *Watcher) handle(event fsnotify.Event) {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addDirectoryRecursive(event.Name); err != nil {
				w.logger.Error("failed to watch new directory", zap.String("dir", event.Name), zap.Error(err))
			}
			return
		}
	}

	if filepath.Ext(event.Name) != ".md" {
		return
	}
	if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) ||
		event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		w.logger.Debug("lesson changed", zap.String("file", event.Name), zap.String("op", event.Op.String()))
		w.reload.Schedule()
	}
}

func (w *Watcher) doReload() {
	if err := w.catalog.Reload(); err != nil {
		w.logger.Error("reload failed", zap.Error(err))
		return
	}
	if w.onReload != nil {
		w.onReload()
	}
}

// Stop stops the watcher.
func (w *Watcher) Stop() error {
	w.reload.Stop()
	close(w.done)
	return w.watcher.Close()
}
