// Package service runs the voicehook daemon: it owns the watch loop and
// dispatches detected files into the processing pipeline.
package service

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/arveller/voicehook/internal/archive"
	"github.com/arveller/voicehook/internal/config"
	"github.com/arveller/voicehook/internal/engine"
	"github.com/arveller/voicehook/internal/logging"
	"github.com/arveller/voicehook/internal/notify"
	"github.com/arveller/voicehook/internal/pidfile"
	"github.com/arveller/voicehook/internal/pipeline"
	"github.com/arveller/voicehook/internal/stability"
	"github.com/arveller/voicehook/internal/stats"
	"github.com/arveller/voicehook/internal/transcode"
	"github.com/arveller/voicehook/internal/watch"
)

// Service orchestrates the voicehook daemon.
type Service struct {
	config       *config.Config
	logger       *logging.FileLogger
	watcher      watch.Watcher
	router       *pipeline.Router
	tracker      *stats.Tracker
	statusServer *stats.Server

	wg       sync.WaitGroup
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewService creates a voicehook service with all components initialized.
func NewService(cfg *config.Config) (*Service, error) {
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	minLevel, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logConfig := logging.DefaultConfig().WithMinLevel(minLevel)
	logConfig.LogDir = cfg.LogDir
	logConfig.Component = "service"
	logger, err := logging.New(logConfig)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}

	watcher, err := newWatcher(cfg)
	if err != nil {
		logger.Close()
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	waiter := stability.NewPollWaiter(
		time.Duration(cfg.PollIntervalMs)*time.Millisecond,
		cfg.StabilityChecks,
	)
	waiter.MaxWait = time.Duration(cfg.StabilityMaxWaitMs) * time.Millisecond

	transcriber := engine.NewTranscriber(newEngine(cfg),
		engine.WithPause(time.Duration(cfg.RetryPauseMs)*time.Millisecond),
		engine.WithLogger(logger.WithComponent("engine")),
	)

	sink := notify.NewWebhookSink(cfg.WebhookURL)

	var transcoder pipeline.Transcoder
	if cfg.AttachAudio {
		transcoder = transcode.NewOpusTranscoder(cfg.FFmpegPath, cfg.OpusBitrateKbps)
	}

	var archiver archive.Archiver
	if cfg.ArchiveDir != "" {
		archiver = archive.NewDateArchiver(cfg.ArchiveDir)
	}

	tracker := stats.NewTracker()

	var statusServer *stats.Server
	if cfg.StatusAddr != "" {
		statusServer = stats.NewServer(cfg.StatusAddr, tracker, logger.WithComponent("status"))
	}

	router := pipeline.NewRouter(pipeline.Options{
		Waiter:      waiter,
		Transcriber: transcriber,
		Sink:        sink,
		Transcoder:  transcoder,
		Archiver:    archiver,
		Tracker:     tracker,
		Logger:      logger.WithComponent("pipeline"),
		Extensions:  cfg.Extensions,
		NotifyDebug: cfg.NotifyDebug,
		AttachAudio: cfg.AttachAudio,
	})

	return &Service{
		config:       cfg,
		logger:       logger,
		watcher:      watcher,
		router:       router,
		tracker:      tracker,
		statusServer: statusServer,
		stopCh:       make(chan struct{}),
	}, nil
}

// newWatcher selects the watch backend from the configuration.
func newWatcher(cfg *config.Config) (watch.Watcher, error) {
	switch cfg.WatchBackend {
	case config.WatchBackendFSNotify:
		return watch.NewFSNotifyWatcher()
	default:
		return watch.NewInotifyWatcher()
	}
}

// newEngine selects the transcription backend from the configuration.
func newEngine(cfg *config.Config) engine.Engine {
	switch cfg.Engine {
	case config.EngineOpenAI:
		return engine.NewOpenAIEngine(cfg.OpenAIAPIKey, cfg.ModelSize)
	default:
		return engine.NewWhisperServerEngine(cfg.EngineURL,
			engine.WithTimeout(time.Duration(cfg.EngineTimeoutMs)*time.Millisecond),
		)
	}
}

// Run starts the service and blocks until stopped. It handles SIGINT and
// SIGTERM for graceful shutdown.
func (s *Service) Run(ctx context.Context) error {
	if s.config.PidFile != "" {
		if err := s.acquirePidFile(); err != nil {
			s.logger.Close()
			return err
		}
		defer s.releasePidFile()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	// In-flight files get their own context so accepted work can finish
	// during shutdown; it is cancelled only when the drain gives up.
	procCtx, procCancel := context.WithCancel(context.Background())
	defer procCancel()

	s.logger.Info("starting voicehook service",
		logging.String("audio_dir", s.config.AudioDir),
		logging.String("engine", s.config.Engine),
		logging.String("watch_backend", s.config.WatchBackend),
	)

	events, err := s.watcher.Watch(ctx, s.config.AudioDir)
	if err != nil {
		s.logger.Error("failed to start watcher", err)
		s.logger.Close()
		return fmt.Errorf("start watcher: %w", err)
	}

	if s.statusServer != nil {
		s.statusServer.Start()
	}

	fmt.Printf("Loaded. Watching %s for new or moved files...\n", filepath.Base(s.config.AudioDir))
	s.logger.Info("watching for files",
		logging.String("dir", s.config.AudioDir),
		logging.String("extensions", fmt.Sprintf("%v", s.config.Extensions)),
	)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("context cancelled, shutting down")
			return s.shutdown(procCancel)

		case <-s.stopCh:
			s.logger.Info("stop requested, shutting down")
			return s.shutdown(procCancel)

		case sig := <-sigCh:
			fmt.Println("Shutting down...")
			s.logger.Info("received signal, shutting down",
				logging.String("signal", sig.String()),
			)
			cancel()
			return s.shutdown(procCancel)

		case event, ok := <-events:
			if !ok {
				s.logger.Info("watcher channel closed")
				return s.shutdown(procCancel)
			}
			s.handleFileEvent(procCtx, event)
		}
	}
}

// Stop signals Run to shut down. Safe to call more than once.
func (s *Service) Stop() {
	s.stopOnce.Do(func() { close(s.stopCh) })
}

// handleFileEvent dispatches one event to the router on its own goroutine.
// Per-path ordering is preserved by the router's in-flight guard.
func (s *Service) handleFileEvent(ctx context.Context, event watch.FileEvent) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.router.Handle(ctx, event)
	}()
}

// shutdown stops the watcher, drains in-flight work and releases the
// remaining resources.
func (s *Service) shutdown(procCancel context.CancelFunc) error {
	if err := s.watcher.Stop(); err != nil {
		s.logger.Error("error stopping watcher", err)
	}

	s.drain(procCancel)

	if s.statusServer != nil {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.statusServer.Stop(stopCtx); err != nil {
			s.logger.Error("error stopping status server", err)
		}
	}

	s.logger.Info("voicehook service stopped")
	return s.logger.Close()
}

// drain waits for in-flight file processing to finish. A negative drain
// timeout waits indefinitely; otherwise stragglers are cancelled once the
// timeout expires.
func (s *Service) drain(procCancel context.CancelFunc) {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	if s.config.DrainTimeoutMs < 0 {
		s.logger.Info("waiting for in-flight processing to complete")
		<-done
		return
	}

	timeout := time.Duration(s.config.DrainTimeoutMs) * time.Millisecond
	s.logger.Info("waiting for in-flight processing to complete",
		logging.Duration("drain_timeout", timeout),
	)

	select {
	case <-done:
	case <-time.After(timeout):
		s.logger.Warn("drain timeout expired, abandoning in-flight work",
			logging.Int("in_flight", s.router.InFlight()),
		)
		procCancel()
	}
}

// acquirePidFile claims the configured PID file, clearing a stale one
// from a previous run first.
func (s *Service) acquirePidFile() error {
	path := s.config.PidFile

	removed, err := pidfile.CleanStale(path)
	if err != nil {
		return fmt.Errorf("check pid file: %w", err)
	}
	if removed {
		s.logger.Info("removed stale pid file",
			logging.String("path", path),
		)
	}

	running, pid, err := pidfile.IsRunning(path)
	if err != nil {
		return fmt.Errorf("check pid file: %w", err)
	}
	if running {
		return fmt.Errorf("voicehook already running with pid %d", pid)
	}

	if err := pidfile.Write(path, os.Getpid()); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	return nil
}

func (s *Service) releasePidFile() {
	if err := pidfile.Remove(s.config.PidFile); err != nil {
		s.logger.Error("failed to remove pid file", err,
			logging.String("path", s.config.PidFile),
		)
	}
}
