package config

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher reloads station.conf on write and dispatches to registered
// listeners, mirroring control.Station's OnReload hook-list shape but backed
// by a real filesystem watch instead of an explicit SetConfig call.
type Watcher struct {
	path      string
	watcher   *fsnotify.Watcher
	listeners []func(*Config)
	log       *zap.Logger
}

// NewWatcher starts watching confPath's directory (fsnotify watches
// directories more reliably than bind-mounted single files across
// editors that replace-on-save) for changes to confPath itself.
func NewWatcher(confPath string, log *zap.Logger) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(confPath)
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{path: confPath, watcher: w, log: log}, nil
}

// OnReload registers a listener invoked with the freshly reloaded Config.
func (w *Watcher) OnReload(fn func(*Config)) {
	w.listeners = append(w.listeners, fn)
}

// Run blocks, dispatching reloads until stop is closed.
func (w *Watcher) Run(stop <-chan struct{}) {
	base := filepath.Base(w.path)
	for {
		select {
		case <-stop:
			w.watcher.Close()
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(ev.Name) != base {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			cfg, err := Load(nil, w.path)
			if err != nil {
				if w.log != nil {
					w.log.Warn("station.conf reload failed", zap.Error(err))
				}
				continue
			}
			for _, fn := range w.listeners {
				fn(cfg)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			if w.log != nil {
				w.log.Warn("config watcher error", zap.Error(err))
			}
		}
	}
}

// Close stops the underlying fsnotify watcher.
func (w *Watcher) Close() error { return w.watcher.Close() }
