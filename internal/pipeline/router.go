package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/arveller/voicehook/internal/archive"
	"github.com/arveller/voicehook/internal/engine"
	"github.com/arveller/voicehook/internal/logging"
	"github.com/arveller/voicehook/internal/notify"
	"github.com/arveller/voicehook/internal/stability"
	"github.com/arveller/voicehook/internal/stats"
	"github.com/arveller/voicehook/internal/watch"
)

// Transcoder re-encodes audio for attachment delivery.
type Transcoder interface {
	ToOpus(ctx context.Context, inputPath, outDir string) (string, error)
}

// Options configures a Router. Waiter, Transcriber and Sink are required;
// the rest enable optional behavior when set.
type Options struct {
	Waiter      stability.Waiter
	Transcriber engine.Engine
	Sink        notify.Sink
	Transcoder  Transcoder       // used only when AttachAudio is set
	Archiver    archive.Archiver // archival skipped when nil
	Tracker     *stats.Tracker
	Logger      logging.Logger
	Extensions  []string // recognized audio extensions, default .mp3
	NotifyDebug bool
	AttachAudio bool
}

// Router drives each detected file through the processing state machine.
type Router struct {
	waiter      stability.Waiter
	transcriber engine.Engine
	sink        notify.Sink
	transcoder  Transcoder
	archiver    archive.Archiver
	tracker     *stats.Tracker
	logger      logging.Logger
	registry    *Registry
	extensions  map[string]struct{}
	notifyDebug bool
	attachAudio bool
}

// NewRouter creates a Router from the given options.
func NewRouter(opts Options) *Router {
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{".mp3"}
	}
	extSet := make(map[string]struct{}, len(exts))
	for _, ext := range exts {
		extSet[strings.ToLower(ext)] = struct{}{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Nop()
	}
	tracker := opts.Tracker
	if tracker == nil {
		tracker = stats.NewTracker()
	}

	return &Router{
		waiter:      opts.Waiter,
		transcriber: opts.Transcriber,
		sink:        opts.Sink,
		transcoder:  opts.Transcoder,
		archiver:    opts.Archiver,
		tracker:     tracker,
		logger:      logger,
		registry:    NewRegistry(),
		extensions:  extSet,
		notifyDebug: opts.NotifyDebug,
		attachAudio: opts.AttachAudio,
	}
}

// InFlight returns the number of files currently being processed.
func (r *Router) InFlight() int {
	return r.registry.InFlight()
}

// Handle runs one file event through the pipeline. It blocks until the
// file reaches a terminal status, so callers wanting concurrency run it
// on their own goroutine; the registry keeps overlapping events for the
// same path from double-processing.
func (r *Router) Handle(ctx context.Context, event watch.FileEvent) {
	r.tracker.FileDetected()

	if r.notifyDebug {
		r.sendDebugPing(ctx, event.Kind)
	}

	if !r.recognized(event.Path) {
		r.tracker.FileIgnored()
		r.logger.Debug("file ignored",
			logging.String("path", event.Path),
			logging.String("status", string(StatusIgnored)),
		)
		return
	}

	job, err := r.registry.Add(event.Path)
	if err != nil {
		r.tracker.DuplicateDropped()
		r.logger.Info("event dropped, path already in flight",
			logging.String("path", event.Path),
			logging.String("kind", event.Kind.String()),
		)
		return
	}
	defer r.registry.Remove(event.Path)

	r.tracker.ProcessingStarted()
	r.processFile(ctx, job, event)
}

// processFile runs the full pipeline for a single accepted file.
func (r *Router) processFile(ctx context.Context, job Job, event watch.FileEvent) {
	startTime := time.Now()

	r.logger.Info("processing file",
		logging.String("job_id", job.ID),
		logging.String("path", event.Path),
		logging.String("kind", event.Kind.String()),
	)

	// Moved files are assumed complete; only fresh creations sit out the
	// stability wait.
	if event.Kind == watch.Created {
		if err := r.waiter.Wait(ctx, event.Path); err != nil {
			r.fail(ctx, job, "stability wait failed", err, false)
			return
		}
	}

	r.transition(job, StatusTranscribing)

	result, err := r.transcriber.Transcribe(ctx, event.Path)
	if err != nil {
		r.fail(ctx, job, "transcription failed", err, true)
		return
	}
	text := strings.TrimSpace(result.Text)

	r.transition(job, StatusNotifying)
	r.deliver(ctx, job, event.Path, text)

	r.transition(job, StatusDone)
	r.tracker.FileCompleted(event.Path, len(text))

	r.logger.Info("file processing complete",
		logging.String("job_id", job.ID),
		logging.String("path", event.Path),
		logging.Int("text_length", len(text)),
		logging.Duration("elapsed", time.Since(startTime)),
	)

	r.archive(ctx, job, event.Path)
}

// fail marks the job failed and logs the cause. When notifyFailure is set
// a failure notice goes out through the sink, itself best-effort.
func (r *Router) fail(ctx context.Context, job Job, msg string, err error, notifyFailure bool) {
	r.transition(job, StatusFailed)
	r.tracker.FileFailed(job.Path, err)

	r.logger.Error(msg, err,
		logging.String("job_id", job.ID),
		logging.String("path", job.Path),
	)

	if !notifyFailure {
		return
	}

	notice := fmt.Sprintf("Transcription failed for %s: %v", filepath.Base(job.Path), err)
	if sendErr := r.sink.Send(ctx, notice); sendErr != nil {
		r.logger.Error("failure notice delivery failed", sendErr,
			logging.String("job_id", job.ID),
			logging.String("path", job.Path),
		)
	}
}

// deliver sends the transcription, attaching an Opus re-encode of the
// source when configured. Delivery problems are logged and swallowed; the
// file still counts as processed.
func (r *Router) deliver(ctx context.Context, job Job, audioPath, text string) {
	if r.attachAudio && r.transcoder != nil {
		if r.deliverWithAudio(ctx, job, audioPath, text) {
			return
		}
	}

	if err := r.sink.Send(ctx, text); err != nil {
		r.logger.Error("notification delivery failed", err,
			logging.String("job_id", job.ID),
			logging.String("path", audioPath),
		)
	}
}

// deliverWithAudio reports whether the attachment message was delivered.
// Any failure falls back to the plain text path.
func (r *Router) deliverWithAudio(ctx context.Context, job Job, audioPath, text string) bool {
	// The re-encoded file lives in a scratch directory so it never shows
	// up inside the watched tree.
	tmpDir, err := os.MkdirTemp("", "voicehook-*")
	if err != nil {
		r.logger.Error("transcode workspace creation failed", err,
			logging.String("job_id", job.ID),
		)
		return false
	}
	defer os.RemoveAll(tmpDir)

	opusPath, err := r.transcoder.ToOpus(ctx, audioPath, tmpDir)
	if err != nil {
		r.logger.Error("opus transcode failed, sending without attachment", err,
			logging.String("job_id", job.ID),
			logging.String("path", audioPath),
		)
		return false
	}

	if err := r.sink.SendFile(ctx, text, opusPath); err != nil {
		r.logger.Error("attachment delivery failed, sending without attachment", err,
			logging.String("job_id", job.ID),
			logging.String("path", audioPath),
		)
		return false
	}
	return true
}

// archive moves the source into the archive tree when one is configured.
func (r *Router) archive(ctx context.Context, job Job, path string) {
	if r.archiver == nil {
		return
	}

	dest, err := r.archiver.Archive(ctx, path)
	if err != nil {
		r.logger.Error("failed to archive file", err,
			logging.String("job_id", job.ID),
			logging.String("path", path),
		)
		return
	}

	r.logger.Info("file archived",
		logging.String("job_id", job.ID),
		logging.String("source", path),
		logging.String("dest", dest),
	)
}

// sendDebugPing posts a marker message for every raw event, before any
// filtering, so the webhook channel shows exactly what the watcher saw.
func (r *Router) sendDebugPing(ctx context.Context, kind watch.Kind) {
	msg := "DEBUG: New audio file created."
	if kind == watch.Moved {
		msg = "DEBUG: Audio file moved."
	}

	if err := r.sink.Send(ctx, msg); err != nil {
		r.logger.Warn("debug notification delivery failed",
			logging.String("error", err.Error()),
		)
	}
}

// transition applies a state machine edge, logging rather than failing on
// a rejected transition.
func (r *Router) transition(job Job, to Status) {
	if err := r.registry.Transition(job.Path, to); err != nil {
		r.logger.Warn("state transition rejected",
			logging.String("job_id", job.ID),
			logging.String("path", job.Path),
			logging.String("to", string(to)),
			logging.String("error", err.Error()),
		)
	}
}

func (r *Router) recognized(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	_, ok := r.extensions[ext]
	return ok
}
