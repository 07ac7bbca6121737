//go:build linux

package service

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/arveller/voicehook/internal/config"
)

// webhookRecorder captures message content delivered to a test webhook.
// Plain deliveries arrive as JSON, audio attachments as multipart; both
// carry a content field.
type webhookRecorder struct {
	mu       sync.Mutex
	contents []string
}

func (r *webhookRecorder) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var content string
		if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
			var payload struct {
				Content string `json:"content"`
			}
			if err := json.NewDecoder(req.Body).Decode(&payload); err == nil {
				content = payload.Content
			}
		} else if err := req.ParseMultipartForm(1 << 20); err == nil {
			content = req.FormValue("content")
		}

		r.mu.Lock()
		r.contents = append(r.contents, content)
		r.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}
}

func (r *webhookRecorder) received() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.contents))
	copy(out, r.contents)
	return out
}

// waitFor polls cond until it returns true or the deadline passes.
func waitFor(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

func testConfig(t *testing.T, webhookURL, engineURL string) *config.Config {
	t.Helper()
	return &config.Config{
		AudioDir:        t.TempDir(),
		ModelSize:       "base",
		WebhookURL:      webhookURL,
		Engine:          config.EngineWhisper,
		EngineURL:       engineURL,
		PollIntervalMs:  10,
		StabilityChecks: 2,
		RetryPauseMs:    1,
		DrainTimeoutMs:  5000,
		LogDir:          t.TempDir(),
		LogLevel:        "debug",
		PidFile:         filepath.Join(t.TempDir(), "voicehook.pid"),
	}
}

func startService(t *testing.T, svc *Service) chan error {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)

	runErr := make(chan error, 1)
	go func() { runErr <- svc.Run(ctx) }()

	// Give the watcher time to set up before creating files.
	time.Sleep(100 * time.Millisecond)
	return runErr
}

func stopService(t *testing.T, svc *Service, runErr chan error) {
	t.Helper()

	svc.Stop()
	select {
	case err := <-runErr:
		if err != nil {
			t.Errorf("Run returned error: %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after Stop")
	}
}

func TestService_FullFlow(t *testing.T) {
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "  hello from the watch dir  "}`))
	}))
	defer whisper.Close()

	recorder := &webhookRecorder{}
	webhook := httptest.NewServer(recorder.handler())
	defer webhook.Close()

	cfg := testConfig(t, webhook.URL, whisper.URL)
	watchDir := cfg.AudioDir

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	runErr := startService(t, svc)

	if _, err := os.Stat(cfg.PidFile); err != nil {
		t.Errorf("expected pid file at %s while running: %v", cfg.PidFile, err)
	}

	// A file written in place arrives as a create, one renamed into the
	// tree as a move. Both must end up delivered.
	if err := os.WriteFile(filepath.Join(watchDir, "created.mp3"), []byte("fake mp3 data"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	srcPath := filepath.Join(t.TempDir(), "moved.mp3")
	if err := os.WriteFile(srcPath, []byte("fake mp3 data"), 0644); err != nil {
		t.Fatalf("failed to write source file: %v", err)
	}
	if err := os.Rename(srcPath, filepath.Join(watchDir, "moved.mp3")); err != nil {
		t.Fatalf("failed to move file into watch dir: %v", err)
	}

	if !waitFor(10*time.Second, func() bool { return len(recorder.received()) >= 2 }) {
		t.Fatalf("expected 2 webhook deliveries, got %d", len(recorder.received()))
	}

	for i, content := range recorder.received() {
		if content != "hello from the watch dir" {
			t.Errorf("delivery %d content = %q, want %q", i, content, "hello from the watch dir")
		}
	}

	stopService(t, svc, runErr)

	if _, err := os.Stat(cfg.PidFile); !os.IsNotExist(err) {
		t.Errorf("expected pid file removed after shutdown, stat err = %v", err)
	}
}

func TestService_TranscriptionFailureDeliversNotice(t *testing.T) {
	// The engine rejects bad.mp3 on every attempt but transcribes
	// anything else, so the test can show the watcher outliving a failure.
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		file, header, err := req.FormFile("audio_file")
		if err != nil {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		file.Close()
		if header.Filename == "bad.mp3" {
			http.Error(w, "model exploded", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "recovered fine"}`))
	}))
	defer whisper.Close()

	recorder := &webhookRecorder{}
	webhook := httptest.NewServer(recorder.handler())
	defer webhook.Close()

	cfg := testConfig(t, webhook.URL, whisper.URL)

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	runErr := startService(t, svc)

	if err := os.WriteFile(filepath.Join(cfg.AudioDir, "bad.mp3"), []byte("fake mp3 data"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if !waitFor(10*time.Second, func() bool { return len(recorder.received()) >= 1 }) {
		t.Fatalf("webhook received no failure notice")
	}

	notice := recorder.received()[0]
	if !strings.Contains(notice, "Transcription failed for bad.mp3") {
		t.Errorf("notice = %q, want it to mention the failed file", notice)
	}
	if !strings.Contains(notice, "failed after 4 attempts") {
		t.Errorf("notice = %q, want it to mention the attempt count", notice)
	}

	// A failed file must not wedge the watcher; the next one still flows.
	if err := os.WriteFile(filepath.Join(cfg.AudioDir, "followup.mp3"), []byte("fake mp3 data"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if !waitFor(10*time.Second, func() bool { return len(recorder.received()) >= 2 }) {
		t.Fatalf("webhook did not receive the follow-up transcription")
	}
	if got := recorder.received()[1]; got != "recovered fine" {
		t.Errorf("follow-up delivery = %q, want %q", got, "recovered fine")
	}

	stopService(t, svc, runErr)
}

func TestService_DrainTimeoutAbandonsHungWork(t *testing.T) {
	var engineCalls int32
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&engineCalls, 1)
		// Park until the client gives up; the drain must not wait for us.
		select {
		case <-req.Context().Done():
		case <-time.After(30 * time.Second):
		}
	}))
	defer whisper.Close()

	recorder := &webhookRecorder{}
	webhook := httptest.NewServer(recorder.handler())
	defer webhook.Close()

	cfg := testConfig(t, webhook.URL, whisper.URL)
	cfg.DrainTimeoutMs = 300

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	runErr := startService(t, svc)

	if err := os.WriteFile(filepath.Join(cfg.AudioDir, "hung.mp3"), []byte("fake mp3 data"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	if !waitFor(10*time.Second, func() bool { return atomic.LoadInt32(&engineCalls) >= 1 }) {
		t.Fatal("engine never received the request")
	}

	stopStart := time.Now()
	stopService(t, svc, runErr)

	if elapsed := time.Since(stopStart); elapsed > 8*time.Second {
		t.Errorf("shutdown took %v, expected the drain to abandon the hung file", elapsed)
	}
	if got := atomic.LoadInt32(&engineCalls); got != 1 {
		t.Errorf("engine calls = %d, want 1 (no retry after cancellation)", got)
	}
	if got := recorder.received(); len(got) != 0 {
		t.Errorf("webhook received %d deliveries for an abandoned file", len(got))
	}
}

func TestService_IgnoresUnrecognizedExtensions(t *testing.T) {
	var engineCalls int32
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		atomic.AddInt32(&engineCalls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "should not happen"}`))
	}))
	defer whisper.Close()

	recorder := &webhookRecorder{}
	webhook := httptest.NewServer(recorder.handler())
	defer webhook.Close()

	cfg := testConfig(t, webhook.URL, whisper.URL)

	svc, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	runErr := startService(t, svc)

	if err := os.WriteFile(filepath.Join(cfg.AudioDir, "notes.txt"), []byte("plain text"), 0644); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	// Give the event time to flow through before asserting nothing happened.
	time.Sleep(300 * time.Millisecond)

	if n := atomic.LoadInt32(&engineCalls); n != 0 {
		t.Errorf("engine called %d times for an ignored file", n)
	}
	if got := recorder.received(); len(got) != 0 {
		t.Errorf("webhook received %d deliveries for an ignored file", len(got))
	}

	stopService(t, svc, runErr)
}

func TestService_RefusesSecondInstance(t *testing.T) {
	whisper := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"text": "ok"}`))
	}))
	defer whisper.Close()

	recorder := &webhookRecorder{}
	webhook := httptest.NewServer(recorder.handler())
	defer webhook.Close()

	cfg := testConfig(t, webhook.URL, whisper.URL)

	first, err := NewService(cfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	runErr := startService(t, first)

	secondCfg := testConfig(t, webhook.URL, whisper.URL)
	secondCfg.PidFile = cfg.PidFile

	second, err := NewService(secondCfg)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := second.Run(ctx); err == nil {
		t.Error("expected second instance to refuse to start")
	} else if !strings.Contains(err.Error(), "already running") {
		t.Errorf("error = %v, want already running", err)
	}

	stopService(t, first, runErr)
}
