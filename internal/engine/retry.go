package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/arveller/voicehook/internal/logging"
)

// DefaultAttempts is the total number of transcription attempts per file.
const DefaultAttempts = 4

// DefaultPause is the fixed pause taken after every attempt.
const DefaultPause = 1 * time.Second

// TranscriptionError is returned once every attempt for a file has failed.
// It wraps the error from the final attempt.
type TranscriptionError struct {
	Path     string
	Attempts int
	Err      error
}

func (e *TranscriptionError) Error() string {
	return fmt.Sprintf("transcription of %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
}

func (e *TranscriptionError) Unwrap() error {
	return e.Err
}

// Transcriber runs an Engine with bounded retry. Every attempt, whether it
// succeeds or fails, is followed by the same fixed pause; this paces requests
// against the engine. Any failure is retried, and once the attempt budget is
// spent the last error comes back wrapped in a TranscriptionError. There is
// no attempt after the final one.
type Transcriber struct {
	engine   Engine
	attempts int
	pause    time.Duration
	logger   logging.Logger
}

// TranscriberOption configures the Transcriber.
type TranscriberOption func(*Transcriber)

// WithAttempts sets the total number of attempts per file.
func WithAttempts(n int) TranscriberOption {
	return func(t *Transcriber) {
		if n > 0 {
			t.attempts = n
		}
	}
}

// WithPause sets the fixed pause taken after each attempt.
func WithPause(d time.Duration) TranscriberOption {
	return func(t *Transcriber) {
		t.pause = d
	}
}

// WithLogger sets a logger for per-attempt reporting.
func WithLogger(l logging.Logger) TranscriberOption {
	return func(t *Transcriber) {
		t.logger = l
	}
}

// NewTranscriber creates a Transcriber wrapping the given Engine.
func NewTranscriber(engine Engine, opts ...TranscriberOption) *Transcriber {
	t := &Transcriber{
		engine:   engine,
		attempts: DefaultAttempts,
		pause:    DefaultPause,
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// Transcribe attempts the file until it succeeds or the attempt budget runs
// out. A cancelled context stops the run between attempts and returns the
// context's error.
func (t *Transcriber) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= t.attempts; attempt++ {
		result, err := t.engine.Transcribe(ctx, audioPath)
		if err == nil {
			// The result is already in hand, so a cancellation during
			// this pause does not discard it.
			t.sleepPause(ctx)
			return result, nil
		}

		lastErr = err
		t.logAttempt(attempt, audioPath, err)

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if pauseErr := t.sleepPause(ctx); pauseErr != nil {
			return nil, pauseErr
		}
	}

	return nil, &TranscriptionError{
		Path:     audioPath,
		Attempts: t.attempts,
		Err:      lastErr,
	}
}

func (t *Transcriber) sleepPause(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(t.pause):
		return nil
	}
}

func (t *Transcriber) logAttempt(attempt int, path string, err error) {
	if t.logger != nil {
		t.logger.Error("transcription attempt failed", err,
			logging.String("file", path),
			logging.Int("attempt", attempt),
			logging.Int("attempts", t.attempts),
		)
	}
}
