// Package livecode watches a shader file and hands its new contents to the
// render loop for recompilation.
package livecode

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/golang/glog"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 150 * time.Millisecond

// Watcher delivers the contents of a file each time it settles after a
// change. Only the newest contents are kept if the reader falls behind.
type Watcher struct {
	path     string
	debounce time.Duration
	fsw      *fsnotify.Watcher
	out      chan string
	done     chan struct{}
	exited   chan struct{}
}

// Watch starts watching path. The parent directory is watched so that
// editors replacing the file by rename are seen too.
func Watch(path string, debounce time.Duration) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	if err := fsw.Add(filepath.Dir(abs)); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", path, err)
	}
	w := &Watcher{
		path:     abs,
		debounce: debounce,
		fsw:      fsw,
		out:      make(chan string, 1),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Sources receives the file contents after every settled change.
func (w *Watcher) Sources() <-chan string { return w.out }

// Path is the absolute path being watched.
func (w *Watcher) Path() string { return w.path }

func (w *Watcher) run() {
	defer close(w.exited)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				glog.V(2).Infof("livecode: %s", event)
				timer.Reset(w.debounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			glog.Warningf("livecode watcher error: %v", err)
		case <-timer.C:
			data, err := os.ReadFile(w.path)
			if err != nil {
				// Mid-rename; the Create that follows resets the timer.
				glog.V(1).Infof("livecode: %v", err)
				continue
			}
			w.publish(string(data))
		}
	}
}

func (w *Watcher) publish(src string) {
	select {
	case w.out <- src:
	default:
		select {
		case <-w.out:
		default:
		}
		w.out <- src
	}
}

// Close stops watching.
func (w *Watcher) Close() error {
	select {
	case <-w.done:
		return nil
	default:
	}
	close(w.done)
	err := w.fsw.Close()
	<-w.exited
	return err
}
