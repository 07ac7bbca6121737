package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FSNotifyWatcher implements Watcher on top of the cross-platform fsnotify
// library. fsnotify surfaces files moved into the tree as plain creations, so
// every event from this backend carries Kind Created and FromPath stays empty.
type FSNotifyWatcher struct {
	fsw      *fsnotify.Watcher
	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFSNotifyWatcher creates a new fsnotify-based watcher.
func NewFSNotifyWatcher() (*FSNotifyWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("fsnotify init: %w", err)
	}

	return &FSNotifyWatcher{
		fsw:    fsw,
		stopCh: make(chan struct{}),
	}, nil
}

// Watch starts watching dir and all of its subdirectories.
func (w *FSNotifyWatcher) Watch(ctx context.Context, dir string) (<-chan FileEvent, error) {
	if err := w.addTree(dir); err != nil {
		return nil, err
	}

	events := make(chan FileEvent, 100)

	go w.loop(ctx, events)

	return events, nil
}

// Stop stops the watcher and releases resources.
func (w *FSNotifyWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		err = w.fsw.Close()
	})
	return err
}

// addTree adds watches for dir and every directory below it. fsnotify watches
// are not recursive on their own.
func (w *FSNotifyWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if addErr := w.fsw.Add(path); addErr != nil {
			return fmt.Errorf("add watch %s: %w", path, addErr)
		}
		return nil
	})
}

func (w *FSNotifyWatcher) loop(ctx context.Context, events chan<- FileEvent) {
	defer close(events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !ev.Has(fsnotify.Create) {
				continue
			}

			info, err := os.Stat(ev.Name)
			if err != nil {
				// Gone already, nothing to report.
				continue
			}
			if info.IsDir() {
				w.addTree(ev.Name)
				continue
			}

			out := FileEvent{
				Path:      ev.Name,
				Kind:      Created,
				Timestamp: time.Now(),
			}
			select {
			case events <- out:
			case <-ctx.Done():
				return
			case <-w.stopCh:
				return
			}

		case _, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			// Per-watch errors are not fatal to the loop.
		}
	}
}
