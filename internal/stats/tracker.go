// Package stats tracks in-memory processing counters for the watch service.
//
// Counters live only for the lifetime of the process. The optional HTTP
// server exposes a snapshot for operators; nothing is persisted.
package stats

import (
	"sync"
	"time"
)

// Tracker accumulates counters as files move through the pipeline.
// All methods are safe for concurrent use.
type Tracker struct {
	mu          sync.RWMutex
	startedAt   time.Time
	detected    uint64
	ignored     uint64
	completed   uint64
	failed      uint64
	duplicates  uint64
	inFlight    int
	lastFile    string
	lastTextLen int
	lastError   string
}

// Snapshot is a point-in-time copy of the tracker state.
type Snapshot struct {
	StartedAt         time.Time `json:"started_at"`
	UptimeSeconds     int64     `json:"uptime_seconds"`
	FilesDetected     uint64    `json:"files_detected"`
	FilesIgnored      uint64    `json:"files_ignored"`
	FilesCompleted    uint64    `json:"files_completed"`
	FilesFailed       uint64    `json:"files_failed"`
	DuplicatesDropped uint64    `json:"duplicates_dropped"`
	InFlight          int       `json:"in_flight"`
	LastFile          string    `json:"last_file,omitempty"`
	LastTextLength    int       `json:"last_text_length,omitempty"`
	LastError         string    `json:"last_error,omitempty"`
}

// NewTracker creates a tracker with the start time set to now.
func NewTracker() *Tracker {
	return &Tracker{startedAt: time.Now()}
}

// FileDetected records an event received from the watcher.
func (t *Tracker) FileDetected() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.detected++
}

// FileIgnored records a file skipped by the extension filter.
func (t *Tracker) FileIgnored() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.ignored++
}

// DuplicateDropped records an event discarded because the path was
// already being processed.
func (t *Tracker) DuplicateDropped() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.duplicates++
}

// ProcessingStarted records a file entering the pipeline.
func (t *Tracker) ProcessingStarted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.inFlight++
}

// FileCompleted records a successful run for path. textLen is the length
// of the delivered transcription.
func (t *Tracker) FileCompleted(path string, textLen int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.completed++
	t.inFlight--
	t.lastFile = path
	t.lastTextLen = textLen
}

// FileFailed records a run that ended in failure.
func (t *Tracker) FileFailed(path string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failed++
	t.inFlight--
	if err != nil {
		t.lastError = path + ": " + err.Error()
	}
}

// Snapshot returns a copy of the current counters.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return Snapshot{
		StartedAt:         t.startedAt,
		UptimeSeconds:     int64(time.Since(t.startedAt).Seconds()),
		FilesDetected:     t.detected,
		FilesIgnored:      t.ignored,
		FilesCompleted:    t.completed,
		FilesFailed:       t.failed,
		DuplicatesDropped: t.duplicates,
		InFlight:          t.inFlight,
		LastFile:          t.lastFile,
		LastTextLength:    t.lastTextLen,
		LastError:         t.lastError,
	}
}
