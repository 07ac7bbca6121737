package pipeline

import (
	"errors"
	"sync"
	"testing"
)

// TestRegistryLifecycle verifies normal progression to done state.
func TestRegistryLifecycle(t *testing.T) {
	r := NewRegistry()

	job, err := r.Add("/audio/memo.mp3")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if job.ID == "" {
		t.Error("job should get an ID")
	}
	if job.Status != StatusWaiting {
		t.Errorf("initial status = %s, want %s", job.Status, StatusWaiting)
	}
	if r.InFlight() != 1 {
		t.Errorf("InFlight = %d, want 1", r.InFlight())
	}

	for _, status := range []Status{
		StatusTranscribing,
		StatusNotifying,
		StatusDone,
	} {
		if err := r.Transition("/audio/memo.mp3", status); err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	current, ok := r.Get("/audio/memo.mp3")
	if !ok {
		t.Fatal("job should still be registered")
	}
	if current.Status != StatusDone {
		t.Fatalf("status = %s, want done", current.Status)
	}

	r.Remove("/audio/memo.mp3")
	if r.InFlight() != 0 {
		t.Errorf("InFlight after remove = %d, want 0", r.InFlight())
	}
}

// TestRegistryRefusesDuplicatePath checks the in-flight guard.
func TestRegistryRefusesDuplicatePath(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Add("/audio/memo.mp3"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := r.Add("/audio/memo.mp3"); !errors.Is(err, ErrAlreadyInFlight) {
		t.Fatalf("second add error = %v, want %v", err, ErrAlreadyInFlight)
	}

	// A different path is unaffected.
	if _, err := r.Add("/audio/other.mp3"); err != nil {
		t.Fatalf("add other path: %v", err)
	}
}

// TestRegistryPathCanReenterAfterRemove verifies removed paths start fresh.
func TestRegistryPathCanReenterAfterRemove(t *testing.T) {
	r := NewRegistry()

	first, err := r.Add("/audio/memo.mp3")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	r.Remove("/audio/memo.mp3")

	second, err := r.Add("/audio/memo.mp3")
	if err != nil {
		t.Fatalf("re-add after remove: %v", err)
	}
	if second.ID == first.ID {
		t.Error("re-added path should get a new job ID")
	}
	if second.Status != StatusWaiting {
		t.Errorf("re-added status = %s, want %s", second.Status, StatusWaiting)
	}
}

// TestRegistryRejectsInvalidTransition checks state machine constraints.
func TestRegistryRejectsInvalidTransition(t *testing.T) {
	r := NewRegistry()

	if _, err := r.Add("/audio/memo.mp3"); err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := r.Transition("/audio/memo.mp3", StatusDone); err == nil {
		t.Fatal("expected invalid transition error")
	}

	// Same-status transition is a no-op, not an error.
	if err := r.Transition("/audio/memo.mp3", StatusWaiting); err != nil {
		t.Fatalf("same-status transition: %v", err)
	}
}

func TestRegistryTransitionUnknownPath(t *testing.T) {
	r := NewRegistry()

	if err := r.Transition("/audio/nope.mp3", StatusTranscribing); err == nil {
		t.Fatal("expected error for unknown path")
	}
}

func TestRegistryFailureReachableFromEveryActiveState(t *testing.T) {
	for _, from := range []Status{StatusWaiting, StatusTranscribing, StatusNotifying} {
		t.Run(string(from), func(t *testing.T) {
			if !isValidTransition(from, StatusFailed) {
				t.Errorf("%s -> failed should be allowed", from)
			}
		})
	}

	for _, from := range []Status{StatusDone, StatusFailed, StatusIgnored} {
		t.Run(string(from)+"_terminal", func(t *testing.T) {
			if isValidTransition(from, StatusFailed) {
				t.Errorf("%s is terminal, no transitions allowed", from)
			}
			if !from.IsTerminal() {
				t.Errorf("%s should report terminal", from)
			}
		})
	}
}

func TestRegistryConcurrentAdds(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	var mu sync.Mutex
	accepted := 0

	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Add("/audio/contended.mp3"); err == nil {
				mu.Lock()
				accepted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if accepted != 1 {
		t.Errorf("accepted = %d, want exactly 1", accepted)
	}
}
