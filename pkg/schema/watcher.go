package schema

import (
	"context"
	"fmt"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// Watcher reloads the schema file on change and swaps the active registry
// atomically. Readers always see a complete registry, never a partial one.
type Watcher struct {
	path    string
	current atomic.Pointer[Registry]
	log     *logrus.Logger
}

// NewWatcher loads the schema file once and returns a watcher serving it.
func NewWatcher(path string, log *logrus.Logger) (*Watcher, error) {
	if log == nil {
		log = logrus.New()
	}
	registry, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	w := &Watcher{path: path, log: log}
	w.current.Store(registry)
	return w, nil
}

// Current returns the active registry. Implements Provider.
func (w *Watcher) Current() *Registry {
	return w.current.Load()
}

// Run watches the schema file until the context is cancelled. A reload that
// fails validation keeps the previous registry active.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create file watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than the file itself so atomic
	// rename-into-place saves are observed.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch schema directory: %w", err)
	}

	w.log.Infof("Watching schema file %s", w.path)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			registry, err := LoadFile(w.path)
			if err != nil {
				w.log.WithError(err).Error("Schema reload failed, keeping previous registry")
				continue
			}
			w.current.Store(registry)
			w.log.Infof("Schema reloaded: %d entity types", len(registry.types))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.log.WithError(err).Error("Schema watcher error")
		}
	}
}
