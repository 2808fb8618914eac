package manager

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/isriam/ssh-manager/pkg/logger"
)

// watchDebounce is the quiet period before a change signal fires, so a
// burst of events (editor temp files, renames) collapses into one.
const watchDebounce = 300 * time.Millisecond

// TreeWatcher signals on Events when anything under the managed tree
// changes. The channel holds at most one pending signal; consumers that
// fall behind see a single refresh, not a backlog.
type TreeWatcher struct {
	Events chan struct{}

	fsw       *fsnotify.Watcher
	done      chan struct{}
	closeOnce sync.Once
}

// WatchTree starts watching base and every folder below it. Folders
// created later are added to the watch automatically.
func WatchTree(base string) (*TreeWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &TreeWatcher{
		Events: make(chan struct{}, 1),
		fsw:    fsw,
		done:   make(chan struct{}),
	}
	if err := w.addRecursive(base); err != nil {
		fsw.Close()
		return nil, err
	}
	go w.loop()
	return w, nil
}

func (w *TreeWatcher) addRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return w.fsw.Add(path)
		}
		return nil
	})
}

func (w *TreeWatcher) loop() {
	var timer *time.Timer
	for {
		select {
		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := w.addRecursive(ev.Name); err != nil {
						logger.Warnf("watch %s: %v", ev.Name, err)
					}
				}
			}
			if timer == nil {
				timer = time.AfterFunc(watchDebounce, w.fire)
			} else {
				timer.Reset(watchDebounce)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			logger.Warnf("watch: %v", err)
		}
	}
}

func (w *TreeWatcher) fire() {
	select {
	case w.Events <- struct{}{}:
	default:
	}
}

// Close stops the watcher. Events stays open; consumers select on it
// together with their own shutdown signal.
func (w *TreeWatcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		close(w.done)
		err = w.fsw.Close()
	})
	return err
}
