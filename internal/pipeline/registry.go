package pipeline

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrAlreadyInFlight is returned when a path is added while a run for it
// is still active.
var ErrAlreadyInFlight = errors.New("path already in flight")

// Job tracks one file moving through the pipeline.
type Job struct {
	ID        string
	Path      string
	Status    Status
	StartedAt time.Time
}

// Registry guards the set of paths currently being processed. A path may
// not re-enter until its active run reaches a terminal status and is
// removed.
type Registry struct {
	mu   sync.RWMutex
	jobs map[string]*Job
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		jobs: make(map[string]*Job),
	}
}

// Add registers a new job for path, starting in StatusWaiting. It refuses
// paths that already have an active job.
func (r *Registry) Add(path string) (Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[path]; exists {
		return Job{}, ErrAlreadyInFlight
	}

	job := &Job{
		ID:        uuid.NewString(),
		Path:      path,
		Status:    StatusWaiting,
		StartedAt: time.Now(),
	}
	r.jobs[path] = job
	return *job, nil
}

// Transition moves the job for path to the given status, validating the
// state machine edge. Transitioning to the current status is a no-op.
func (r *Registry) Transition(path string, to Status) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	job, ok := r.jobs[path]
	if !ok {
		return fmt.Errorf("no active job for %s", path)
	}
	if to == job.Status {
		return nil
	}
	if !isValidTransition(job.Status, to) {
		return fmt.Errorf("invalid transition: %s -> %s", job.Status, to)
	}

	job.Status = to
	return nil
}

// Remove drops the job for path, allowing later events for that path to
// start a new run.
func (r *Registry) Remove(path string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.jobs, path)
}

// Get returns a snapshot of the job for path.
func (r *Registry) Get(path string) (Job, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[path]
	if !ok {
		return Job{}, false
	}
	return *job, true
}

// InFlight returns the number of active jobs.
func (r *Registry) InFlight() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.jobs)
}
