package orchestrator

import (
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/marmos91/swarmsync/internal/logger"
)

// watcher observes one share root recursively and reports raw change
// notifications as share-relative, forward-slash paths. fsnotify watches
// are per-directory, so the watcher walks the tree at startup and adds
// newly created directories as they appear.
type watcher struct {
	fsw     *fsnotify.Watcher
	root    string
	onEvent func(rel string)
	doneCh  chan struct{}
}

// newWatcher starts watching root. onEvent is called from the watcher
// goroutine; it must be quick and must not block.
func newWatcher(root string, onEvent func(rel string)) (*watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &watcher{
		fsw:     fsw,
		root:    root,
		onEvent: onEvent,
		doneCh:  make(chan struct{}),
	}

	if err := w.addRecursive(root); err != nil {
		fsw.Close()
		return nil, err
	}

	go w.run()
	return w, nil
}

// Stop closes the watcher and waits for its goroutine to exit; no onEvent
// call happens after Stop returns.
func (w *watcher) Stop() {
	w.fsw.Close()
	<-w.doneCh
}

func (w *watcher) run() {
	defer close(w.doneCh)

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warn("watcher error on %s: %v", w.root, err)
		}
	}
}

func (w *watcher) handle(ev fsnotify.Event) {
	rel, err := filepath.Rel(w.root, ev.Name)
	if err != nil || rel == "." {
		return
	}

	// A freshly created directory needs its own watch before anything
	// inside it can be observed; contents that appeared before the watch
	// was in place are picked up by the recursive add.
	if ev.Op.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			if err := w.addRecursive(ev.Name); err != nil {
				logger.Warn("failed to watch new directory %s: %v", ev.Name, err)
			}
		}
	}

	w.onEvent(filepath.ToSlash(rel))
}

func (w *watcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if err := w.fsw.Add(path); err != nil {
			return err
		}
		return nil
	})
}
