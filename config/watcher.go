package config

import (
	"log/slog"

	"github.com/fsnotify/fsnotify"
)

// Watcher reports changes in the preset directory so readers can
// invalidate cached snapshots. Events are coalesced per file event;
// the callback runs on the watcher goroutine.
type Watcher struct {
	fs     *fsnotify.Watcher
	onDrop func(name string)
	done   chan struct{}
}

// NewWatcher watches dir and invokes onChange with the affected file
// name for every create, write, rename, or remove in it.
func NewWatcher(dir string, onChange func(name string)) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fs.Add(dir); err != nil {
		fs.Close()
		return nil, err
	}
	w := &Watcher{fs: fs, onDrop: onChange, done: make(chan struct{})}
	go w.loop()
	return w, nil
}

func (w *Watcher) loop() {
	defer close(w.done)
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) != 0 {
				w.onDrop(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			slog.Warn("preset watcher error", "error", err)
		}
	}
}

// Close stops watching and waits for the goroutine to exit.
func (w *Watcher) Close() error {
	err := w.fs.Close()
	<-w.done
	return err
}
