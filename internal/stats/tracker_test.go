package stats

import (
	"errors"
	"sync"
	"testing"
	"time"
)

func TestTracker_CountersAccumulate(t *testing.T) {
	tracker := NewTracker()

	tracker.FileDetected()
	tracker.FileDetected()
	tracker.FileDetected()
	tracker.FileIgnored()
	tracker.DuplicateDropped()

	tracker.ProcessingStarted()
	tracker.FileCompleted("/audio/memo.mp3", 42)

	tracker.ProcessingStarted()
	tracker.FileFailed("/audio/bad.mp3", errors.New("engine unreachable"))

	snap := tracker.Snapshot()

	if snap.FilesDetected != 3 {
		t.Errorf("FilesDetected = %d, want 3", snap.FilesDetected)
	}
	if snap.FilesIgnored != 1 {
		t.Errorf("FilesIgnored = %d, want 1", snap.FilesIgnored)
	}
	if snap.DuplicatesDropped != 1 {
		t.Errorf("DuplicatesDropped = %d, want 1", snap.DuplicatesDropped)
	}
	if snap.FilesCompleted != 1 {
		t.Errorf("FilesCompleted = %d, want 1", snap.FilesCompleted)
	}
	if snap.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", snap.FilesFailed)
	}
	if snap.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", snap.InFlight)
	}
	if snap.LastFile != "/audio/memo.mp3" {
		t.Errorf("LastFile = %q, want /audio/memo.mp3", snap.LastFile)
	}
	if snap.LastTextLength != 42 {
		t.Errorf("LastTextLength = %d, want 42", snap.LastTextLength)
	}
	if snap.LastError != "/audio/bad.mp3: engine unreachable" {
		t.Errorf("LastError = %q", snap.LastError)
	}
}

func TestTracker_InFlightTracksActiveWork(t *testing.T) {
	tracker := NewTracker()

	tracker.ProcessingStarted()
	tracker.ProcessingStarted()

	if got := tracker.Snapshot().InFlight; got != 2 {
		t.Errorf("InFlight = %d, want 2", got)
	}

	tracker.FileCompleted("/audio/a.mp3", 10)

	if got := tracker.Snapshot().InFlight; got != 1 {
		t.Errorf("InFlight after completion = %d, want 1", got)
	}
}

func TestTracker_StartTime(t *testing.T) {
	before := time.Now()
	tracker := NewTracker()
	after := time.Now()

	snap := tracker.Snapshot()
	if snap.StartedAt.Before(before) || snap.StartedAt.After(after) {
		t.Errorf("StartedAt = %v, want between %v and %v", snap.StartedAt, before, after)
	}
	if snap.UptimeSeconds < 0 {
		t.Errorf("UptimeSeconds = %d, want >= 0", snap.UptimeSeconds)
	}
}

func TestTracker_ConcurrentUpdates(t *testing.T) {
	tracker := NewTracker()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				tracker.FileDetected()
				tracker.ProcessingStarted()
				tracker.FileCompleted("/audio/memo.mp3", 5)
			}
		}()
	}
	wg.Wait()

	snap := tracker.Snapshot()
	if snap.FilesDetected != 1000 {
		t.Errorf("FilesDetected = %d, want 1000", snap.FilesDetected)
	}
	if snap.FilesCompleted != 1000 {
		t.Errorf("FilesCompleted = %d, want 1000", snap.FilesCompleted)
	}
	if snap.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", snap.InFlight)
	}
}

func TestTracker_FailedWithNilError(t *testing.T) {
	tracker := NewTracker()

	tracker.ProcessingStarted()
	tracker.FileFailed("/audio/bad.mp3", nil)

	snap := tracker.Snapshot()
	if snap.FilesFailed != 1 {
		t.Errorf("FilesFailed = %d, want 1", snap.FilesFailed)
	}
	if snap.LastError != "" {
		t.Errorf("LastError = %q, want empty", snap.LastError)
	}
}
