// Package confwatcher implements hot reloading of the configuration file.
package confwatcher

import (
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// wait after an event, editors often replace the file in several steps.
const settleDelay = 10 * time.Millisecond

// ConfWatcher signals when the configuration file changes on disk.
// The parent directory is watched instead of the file itself, so that
// editors which save by renaming a temporary file over the original
// still trigger a reload.
type ConfWatcher struct {
	confPath string
	watcher  *fsnotify.Watcher

	// in
	terminate chan struct{}

	// out
	chChanged chan struct{}
	done      chan struct{}
}

// New allocates a ConfWatcher.
func New(confPath string) (*ConfWatcher, error) {
	absPath, err := filepath.Abs(confPath)
	if err != nil {
		return nil, err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	err = watcher.Add(filepath.Dir(absPath))
	if err != nil {
		watcher.Close()
		return nil, err
	}

	w := &ConfWatcher{
		confPath:  absPath,
		watcher:   watcher,
		terminate: make(chan struct{}),
		chChanged: make(chan struct{}),
		done:      make(chan struct{}),
	}

	go w.run()

	return w, nil
}

// Close closes a ConfWatcher.
func (w *ConfWatcher) Close() {
	close(w.terminate)
	<-w.done
}

func (w *ConfWatcher) run() {
	defer close(w.done)

outer:
	for {
		select {
		case event := <-w.watcher.Events:
			eventPath, _ := filepath.Abs(event.Name)
			if eventPath != w.confPath {
				continue
			}

			if (event.Op&fsnotify.Write) != fsnotify.Write &&
				(event.Op&fsnotify.Create) != fsnotify.Create {
				continue
			}

			// let the writer finish before the file is re-read
			time.Sleep(settleDelay)

			select {
			case w.chChanged <- struct{}{}:
			case <-w.terminate:
				break outer
			}

		case <-w.watcher.Errors:
			break outer

		case <-w.terminate:
			break outer
		}
	}

	close(w.chChanged)
	w.watcher.Close()
}

// Watch returns a channel that receives a message when the
// configuration file has changed.
func (w *ConfWatcher) Watch() chan struct{} {
	return w.chChanged
}
