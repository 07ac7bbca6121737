// Package stability waits for files to finish being written.
package stability

import (
	"context"
	"errors"
	"os"
	"time"
)

// ErrMaxWaitExceeded is returned when a file keeps changing past MaxWait.
var ErrMaxWaitExceeded = errors.New("stability timeout: file did not stop changing in time")

// Waiter blocks until a file has finished writing.
type Waiter interface {
	Wait(ctx context.Context, path string) error
}

// PollWaiter implements Waiter by sampling the file size. A file counts as
// stable once its size is unchanged across Checks consecutive sample pairs.
type PollWaiter struct {
	// Interval is the duration between size samples.
	Interval time.Duration

	// Checks is the number of consecutive unchanged samples required.
	Checks int

	// MaxWait bounds the total wait. Zero means wait indefinitely.
	MaxWait time.Duration
}

// NewPollWaiter creates a polling-based waiter.
func NewPollWaiter(interval time.Duration, checks int) *PollWaiter {
	if checks < 1 {
		checks = 1
	}
	return &PollWaiter{
		Interval: interval,
		Checks:   checks,
	}
}

// Wait samples the size of the file at path until it stops changing. The
// first sample is taken immediately, so a file that has already vanished
// fails without sleeping. Stat errors are returned as-is. When MaxWait is set
// and expires first, Wait returns ErrMaxWaitExceeded; a cancelled context
// returns the context's error.
func (w *PollWaiter) Wait(ctx context.Context, path string) error {
	waitCtx := ctx
	if w.MaxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, w.MaxWait)
		defer cancel()
	}

	var lastSize int64 = -1
	stable := 0

	for {
		info, err := os.Stat(path)
		if err != nil {
			return err
		}

		size := info.Size()
		if size == lastSize {
			stable++
			if stable >= w.Checks {
				return nil
			}
		} else {
			stable = 0
			lastSize = size
		}

		select {
		case <-waitCtx.Done():
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return ErrMaxWaitExceeded
		case <-time.After(w.Interval):
		}
	}
}
