package watch

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"strings"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

const inotifyMask = unix.IN_CREATE | unix.IN_MOVED_TO | unix.IN_MOVED_FROM

// pendingMoveTTL bounds how long an unmatched rename origin is remembered.
const pendingMoveTTL = 2 * time.Second

type pendingMove struct {
	path string
	seen time.Time
}

// InotifyWatcher implements Watcher using Linux inotify. It watches the root
// directory and every subdirectory, adding and dropping watches as
// directories appear and disappear. Rename cookies pair IN_MOVED_FROM with
// IN_MOVED_TO so intra-tree moves carry their origin path.
type InotifyWatcher struct {
	fd int

	mu      sync.Mutex
	watches map[int]string // wd -> directory
	dirs    map[string]int // directory -> wd
	stopped bool

	pending map[uint32]pendingMove
	stopCh  chan struct{}
}

// NewInotifyWatcher creates a new inotify-based watcher.
func NewInotifyWatcher() (*InotifyWatcher, error) {
	fd, err := unix.InotifyInit1(unix.IN_CLOEXEC | unix.IN_NONBLOCK)
	if err != nil {
		return nil, fmt.Errorf("inotify init: %w", err)
	}

	return &InotifyWatcher{
		fd:      fd,
		watches: make(map[int]string),
		dirs:    make(map[string]int),
		pending: make(map[uint32]pendingMove),
		stopCh:  make(chan struct{}),
	}, nil
}

// Watch starts watching dir and all of its subdirectories.
func (w *InotifyWatcher) Watch(ctx context.Context, dir string) (<-chan FileEvent, error) {
	if err := w.addTree(dir); err != nil {
		return nil, err
	}

	events := make(chan FileEvent, 100)

	go w.readEvents(ctx, events)

	return events, nil
}

// Stop stops the watcher and releases resources.
func (w *InotifyWatcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	w.stopped = true
	close(w.stopCh)

	for wd := range w.watches {
		unix.InotifyRmWatch(w.fd, uint32(wd))
	}
	w.watches = make(map[int]string)
	w.dirs = make(map[string]int)

	return unix.Close(w.fd)
}

// addTree adds watches for dir and every directory below it.
func (w *InotifyWatcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			// The tree can change underneath the walk.
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		return w.addWatch(path)
	})
}

func (w *InotifyWatcher) addWatch(dir string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return nil
	}
	if _, ok := w.dirs[dir]; ok {
		return nil
	}

	wd, err := unix.InotifyAddWatch(w.fd, dir, inotifyMask)
	if err != nil {
		return fmt.Errorf("add watch %s: %w", dir, err)
	}
	w.watches[wd] = dir
	w.dirs[dir] = wd
	return nil
}

// removeTree drops the watches for dir and everything below it. The kernel
// confirms each removal with IN_IGNORED, which clears the maps.
func (w *InotifyWatcher) removeTree(dir string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.stopped {
		return
	}

	prefix := dir + string(filepath.Separator)
	for path, wd := range w.dirs {
		if path == dir || strings.HasPrefix(path, prefix) {
			unix.InotifyRmWatch(w.fd, uint32(wd))
		}
	}
}

func (w *InotifyWatcher) dirForWd(wd int) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	dir, ok := w.watches[wd]
	return dir, ok
}

func (w *InotifyWatcher) forgetWd(wd int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if dir, ok := w.watches[wd]; ok {
		delete(w.dirs, dir)
		delete(w.watches, wd)
	}
}

func (w *InotifyWatcher) readEvents(ctx context.Context, events chan<- FileEvent) {
	defer close(events)

	buf := make([]byte, 64*1024)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		default:
		}

		n, err := unix.Read(w.fd, buf)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				// No events available, sleep briefly and retry
				time.Sleep(10 * time.Millisecond)
				continue
			}
			return
		}

		if n < unix.SizeofInotifyEvent {
			continue
		}

		w.prunePending()

		offset := 0
		for offset < n {
			event := (*unix.InotifyEvent)(unsafe.Pointer(&buf[offset]))
			nameLen := int(event.Len)

			if event.Mask&unix.IN_IGNORED != 0 {
				w.forgetWd(int(event.Wd))
				offset += unix.SizeofInotifyEvent + nameLen
				continue
			}
			if event.Mask&unix.IN_Q_OVERFLOW != 0 {
				offset += unix.SizeofInotifyEvent + nameLen
				continue
			}

			if nameLen > 0 {
				dir, ok := w.dirForWd(int(event.Wd))
				if ok {
					nameBytes := buf[offset+unix.SizeofInotifyEvent : offset+unix.SizeofInotifyEvent+nameLen]
					name := strings.TrimRight(string(nameBytes), "\x00")
					full := filepath.Join(dir, name)

					if !w.handleEvent(ctx, events, event, full) {
						return
					}
				}
			}

			offset += unix.SizeofInotifyEvent + nameLen
		}
	}
}

// handleEvent dispatches a single parsed inotify event. It returns false when
// the read loop should exit because the watcher is shutting down.
func (w *InotifyWatcher) handleEvent(ctx context.Context, events chan<- FileEvent, event *unix.InotifyEvent, full string) bool {
	isDir := event.Mask&unix.IN_ISDIR != 0

	if isDir {
		switch {
		case event.Mask&(unix.IN_CREATE|unix.IN_MOVED_TO) != 0:
			// New subdirectory: watch it. Files that arrived inside it
			// before the watch took effect are not replayed.
			w.addTree(full)
		case event.Mask&unix.IN_MOVED_FROM != 0:
			w.removeTree(full)
		}
		return true
	}

	switch {
	case event.Mask&unix.IN_MOVED_FROM != 0:
		w.rememberMove(event.Cookie, full)
		return true

	case event.Mask&unix.IN_MOVED_TO != 0:
		ev := FileEvent{
			Path:      full,
			FromPath:  w.takeMove(event.Cookie),
			Kind:      Moved,
			Timestamp: time.Now(),
		}
		return w.emit(ctx, events, ev)

	case event.Mask&unix.IN_CREATE != 0:
		ev := FileEvent{
			Path:      full,
			Kind:      Created,
			Timestamp: time.Now(),
		}
		return w.emit(ctx, events, ev)
	}

	return true
}

func (w *InotifyWatcher) emit(ctx context.Context, events chan<- FileEvent, ev FileEvent) bool {
	select {
	case events <- ev:
		return true
	case <-ctx.Done():
		return false
	case <-w.stopCh:
		return false
	}
}

func (w *InotifyWatcher) rememberMove(cookie uint32, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending[cookie] = pendingMove{path: path, seen: time.Now()}
}

func (w *InotifyWatcher) takeMove(cookie uint32) string {
	w.mu.Lock()
	defer w.mu.Unlock()
	pm, ok := w.pending[cookie]
	if !ok {
		return ""
	}
	delete(w.pending, cookie)
	return pm.path
}

// prunePending drops rename origins whose IN_MOVED_TO never arrived, which
// happens when a file is moved out of the watched tree.
func (w *InotifyWatcher) prunePending() {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := time.Now().Add(-pendingMoveTTL)
	for cookie, pm := range w.pending {
		if pm.seen.Before(cutoff) {
			delete(w.pending, cookie)
		}
	}
}
