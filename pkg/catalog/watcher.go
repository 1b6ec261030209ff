package catalog

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/creditgate/pkg/observability"
)

// Watcher reloads a catalog file when it changes and publishes the result
// through an AtomicSource. An invalid file is logged and the previous
// catalog stays in effect.
type Watcher struct {
	path     string
	source   *AtomicSource
	logger   *observability.Logger
	debounce time.Duration
	onReload func(*Catalog)

	fsWatcher *fsnotify.Watcher
	done      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewWatcher loads path and returns a watcher serving it. Call Start to
// begin watching.
func NewWatcher(path string, logger *observability.Logger) (*Watcher, error) {
	initial, err := LoadFile(path)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = observability.NewNopLogger()
	}
	return &Watcher{
		path:     path,
		source:   NewAtomicSource(initial),
		logger:   logger.WithField("component", "catalog_watcher"),
		debounce: 250 * time.Millisecond,
		done:     make(chan struct{}),
	}, nil
}

// OnReload registers a callback invoked after each successful reload.
// Must be called before Start.
func (w *Watcher) OnReload(fn func(*Catalog)) {
	w.onReload = fn
}

// Current implements Source
func (w *Watcher) Current() *Catalog {
	return w.source.Current()
}

// Start watches the directory holding the file so editor rename-over saves
// and ConfigMap symlink swaps are seen.
func (w *Watcher) Start() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		_ = fsw.Close()
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	w.fsWatcher = fsw

	w.wg.Add(1)
	go w.loop()
	return nil
}

// Stop terminates the watcher. Safe to call more than once.
func (w *Watcher) Stop() error {
	w.stopOnce.Do(func() { close(w.done) })
	w.wg.Wait()
	if w.fsWatcher != nil {
		return w.fsWatcher.Close()
	}
	return nil
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("catalog watcher error")

		case <-fire:
			fire = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	next, err := LoadFile(w.path)
	if err != nil {
		w.logger.WithError(err).Error("catalog reload failed, keeping previous catalog")
		return
	}
	w.source.Store(next)
	w.logger.WithField("features", next.Features.Len()).Info("catalog reloaded")
	if w.onReload != nil {
		w.onReload(next)
	}
}
