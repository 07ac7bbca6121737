package service

import (
	"errors"
	"strings"
	"testing"

	"github.com/arveller/voicehook/internal/config"
)

func TestNewService_RejectsEmptyConfig(t *testing.T) {
	_, err := NewService(&config.Config{})
	if err == nil {
		t.Fatal("expected error for empty config")
	}
	if !errors.Is(err, config.ErrAudioDirRequired) {
		t.Errorf("error = %v, want %v", err, config.ErrAudioDirRequired)
	}
}

func TestNewService_RejectsMissingWebhook(t *testing.T) {
	cfg := &config.Config{
		AudioDir:  t.TempDir(),
		ModelSize: "base",
	}
	_, err := NewService(cfg)
	if !errors.Is(err, config.ErrWebhookURLRequired) {
		t.Errorf("error = %v, want %v", err, config.ErrWebhookURLRequired)
	}
}

func TestNewService_RejectsUnknownLogLevel(t *testing.T) {
	cfg := &config.Config{
		AudioDir:   t.TempDir(),
		ModelSize:  "base",
		WebhookURL: "https://discord.example/api/webhooks/1/token",
		LogLevel:   "noisy",
	}
	_, err := NewService(cfg)
	if err == nil {
		t.Fatal("expected error for unknown log level")
	}
	if !strings.Contains(err.Error(), "invalid config") {
		t.Errorf("error = %v, want it wrapped as invalid config", err)
	}
}
