// Package watch detects audio files appearing under a directory tree.
//
// Two backends are provided: InotifyWatcher talks to the kernel directly and
// can tell files moved into the tree apart from files created in place, while
// FSNotifyWatcher rides on the portable fsnotify library and reports every
// arrival as a creation.
package watch

import (
	"context"
	"time"
)

// Kind distinguishes how a file arrived in the watched tree.
type Kind int

const (
	// Created means the file was newly created inside the tree and may
	// still be receiving writes.
	Created Kind = iota
	// Moved means the file was renamed or moved into place, usually
	// already complete.
	Moved
)

func (k Kind) String() string {
	switch k {
	case Created:
		return "created"
	case Moved:
		return "moved"
	default:
		return "unknown"
	}
}

// FileEvent represents a detected file. Path is always the location the file
// now lives at. FromPath is set only for moves whose origin was inside the
// watched tree.
type FileEvent struct {
	Path      string
	FromPath  string
	Kind      Kind
	Timestamp time.Time
}

// Watcher emits FileEvents for files appearing anywhere under a directory
// tree. Filtering by extension is the caller's concern; a watcher reports
// every non-directory arrival.
type Watcher interface {
	Watch(ctx context.Context, dir string) (<-chan FileEvent, error)
	Stop() error
}
