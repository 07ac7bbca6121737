// Package config loads and validates the voicehook service configuration.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// DefaultFileName is the config file read when no --config flag is given.
const DefaultFileName = "config.toml"

// EnvPrefix is the prefix for environment overrides (VOICEHOOK_AUDIO_DIR, ...).
const EnvPrefix = "voicehook"

// Engine backends selectable via the engine key.
const (
	EngineWhisper = "whisper"
	EngineOpenAI  = "openai"
)

// Watch backends selectable via the watch_backend key.
const (
	WatchBackendInotify  = "inotify"
	WatchBackendFSNotify = "fsnotify"
)

// Default values for optional configuration fields
const (
	DefaultEngine          = EngineWhisper
	DefaultEngineURL       = "http://localhost:9000"
	DefaultEngineTimeoutMs = 300000
	DefaultPollIntervalMs  = 1000
	DefaultStabilityChecks = 1
	DefaultRetryPauseMs    = 1000
	DefaultWatchBackend    = WatchBackendInotify
	DefaultDrainTimeoutMs  = 30000
	DefaultOpusBitrateKbps = 64
	DefaultFFmpegPath      = "ffmpeg"
	DefaultLogDir          = "~/.voicehook/logs"
	DefaultLogLevel        = "info"
)

// DefaultExtensions are the audio extensions processed when none are configured.
var DefaultExtensions = []string{".mp3"}

// Config represents the full service configuration. It is constructed once at
// startup and passed by pointer into each component constructor; there is no
// package-level configuration state.
type Config struct {
	// Required.
	AudioDir   string `toml:"audio_dir" envconfig:"AUDIO_DIR"`
	ModelSize  string `toml:"model_size" envconfig:"MODEL_SIZE"`
	WebhookURL string `toml:"webhook_url" envconfig:"WEBHOOK_URL"`

	// File detection.
	Extensions         []string `toml:"extensions" envconfig:"EXTENSIONS"`
	WatchBackend       string   `toml:"watch_backend" envconfig:"WATCH_BACKEND"`
	PollIntervalMs     int      `toml:"poll_interval_ms" envconfig:"POLL_INTERVAL_MS"`
	StabilityChecks    int      `toml:"stability_checks" envconfig:"STABILITY_CHECKS"`
	StabilityMaxWaitMs int      `toml:"stability_max_wait_ms" envconfig:"STABILITY_MAX_WAIT_MS"`

	// Transcription engine.
	Engine          string `toml:"engine" envconfig:"ENGINE"`
	EngineURL       string `toml:"engine_url" envconfig:"ENGINE_URL"`
	EngineTimeoutMs int    `toml:"engine_timeout_ms" envconfig:"ENGINE_TIMEOUT_MS"`
	OpenAIAPIKey    string `toml:"openai_api_key" envconfig:"OPENAI_API_KEY"`
	RetryPauseMs    int    `toml:"retry_pause_ms" envconfig:"RETRY_PAUSE_MS"`

	// Notification.
	NotifyDebug     bool   `toml:"notify_debug" envconfig:"NOTIFY_DEBUG"`
	AttachAudio     bool   `toml:"attach_audio" envconfig:"ATTACH_AUDIO"`
	OpusBitrateKbps int    `toml:"opus_bitrate_kbps" envconfig:"OPUS_BITRATE_KBPS"`
	FFmpegPath      string `toml:"ffmpeg_path" envconfig:"FFMPEG_PATH"`

	// Lifecycle and operations.
	DrainTimeoutMs int    `toml:"drain_timeout_ms" envconfig:"DRAIN_TIMEOUT_MS"`
	ArchiveDir     string `toml:"archive_dir" envconfig:"ARCHIVE_DIR"`
	PidFile        string `toml:"pid_file" envconfig:"PID_FILE"`
	StatusAddr     string `toml:"status_addr" envconfig:"STATUS_ADDR"`
	LogDir         string `toml:"log_dir" envconfig:"LOG_DIR"`
	LogLevel       string `toml:"log_level" envconfig:"LOG_LEVEL"`
}

// Validation errors
var (
	ErrAudioDirRequired   = errors.New("audio_dir is required")
	ErrModelSizeRequired  = errors.New("model_size is required")
	ErrWebhookURLRequired = errors.New("webhook_url is required")
	ErrOpenAIKeyRequired  = errors.New("openai_api_key is required for the openai engine")
)

// Load reads the configuration file at path, loads a .env file when one is
// present in the working directory, and overlays VOICEHOOK_* environment
// variables on top of the file values. Defaults are applied and ~ is expanded
// in path fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	// A .env file is optional; only a malformed one is an error.
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}

	cfg.ApplyDefaults()
	cfg.expandPaths()
	return &cfg, nil
}

// Validate checks that all required fields are present and that enumerated
// fields hold recognized values. Returns an error for the first problem found.
func (c *Config) Validate() error {
	if c.AudioDir == "" {
		return ErrAudioDirRequired
	}
	if c.ModelSize == "" {
		return ErrModelSizeRequired
	}
	if c.WebhookURL == "" {
		return ErrWebhookURLRequired
	}
	switch c.Engine {
	case EngineWhisper:
	case EngineOpenAI:
		if c.OpenAIAPIKey == "" {
			return ErrOpenAIKeyRequired
		}
	default:
		return fmt.Errorf("unknown engine %q (expected %q or %q)", c.Engine, EngineWhisper, EngineOpenAI)
	}
	switch c.WatchBackend {
	case WatchBackendInotify, WatchBackendFSNotify:
	default:
		return fmt.Errorf("unknown watch_backend %q (expected %q or %q)", c.WatchBackend, WatchBackendInotify, WatchBackendFSNotify)
	}
	return nil
}

// ApplyDefaults sets default values for optional fields that are empty or zero.
func (c *Config) ApplyDefaults() {
	if len(c.Extensions) == 0 {
		c.Extensions = append([]string(nil), DefaultExtensions...)
	}
	if c.WatchBackend == "" {
		c.WatchBackend = DefaultWatchBackend
	}
	if c.PollIntervalMs == 0 {
		c.PollIntervalMs = DefaultPollIntervalMs
	}
	if c.StabilityChecks == 0 {
		c.StabilityChecks = DefaultStabilityChecks
	}
	if c.Engine == "" {
		c.Engine = DefaultEngine
	}
	if c.EngineURL == "" {
		c.EngineURL = DefaultEngineURL
	}
	if c.EngineTimeoutMs == 0 {
		c.EngineTimeoutMs = DefaultEngineTimeoutMs
	}
	if c.OpenAIAPIKey == "" {
		c.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	}
	if c.RetryPauseMs == 0 {
		c.RetryPauseMs = DefaultRetryPauseMs
	}
	if c.OpusBitrateKbps == 0 {
		c.OpusBitrateKbps = DefaultOpusBitrateKbps
	}
	if c.FFmpegPath == "" {
		c.FFmpegPath = DefaultFFmpegPath
	}
	if c.DrainTimeoutMs == 0 {
		c.DrainTimeoutMs = DefaultDrainTimeoutMs
	}
	if c.LogDir == "" {
		c.LogDir = DefaultLogDir
	}
	if c.LogLevel == "" {
		c.LogLevel = DefaultLogLevel
	}
}

// expandPaths expands ~ to the user's home directory in path fields.
func (c *Config) expandPaths() {
	c.AudioDir = expandTilde(c.AudioDir)
	c.ArchiveDir = expandTilde(c.ArchiveDir)
	c.LogDir = expandTilde(c.LogDir)
	c.PidFile = expandTilde(c.PidFile)
}

// expandTilde expands ~ at the beginning of a path to the user's home directory.
func expandTilde(path string) string {
	if path == "" {
		return path
	}
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return home
	}
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
