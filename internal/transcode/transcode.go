// Package transcode converts audio files to Opus with ffmpeg.
package transcode

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// DefaultBitrateKbps is the Opus bitrate used when none is configured.
const DefaultBitrateKbps = 64

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// TranscodeError carries the context of a failed ffmpeg invocation.
type TranscodeError struct {
	Path     string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TranscodeError) Error() string {
	return fmt.Sprintf("transcode of %s failed (exit=%d): %v", e.Path, e.ExitCode, e.Err)
}

func (e *TranscodeError) Unwrap() error {
	return e.Err
}

// OpusTranscoder re-encodes audio files to Opus via an external ffmpeg.
type OpusTranscoder struct {
	ffmpegPath  string
	bitrateKbps int
	runner      commandRunner
}

// NewOpusTranscoder creates a transcoder that shells out to ffmpegPath.
func NewOpusTranscoder(ffmpegPath string, bitrateKbps int) *OpusTranscoder {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	if bitrateKbps <= 0 {
		bitrateKbps = DefaultBitrateKbps
	}
	return &OpusTranscoder{
		ffmpegPath:  ffmpegPath,
		bitrateKbps: bitrateKbps,
		runner:      &execRunner{},
	}
}

// ToOpus converts the file at inputPath into an .opus file inside outDir and
// returns the output path. The input keeps its name apart from the extension.
func (t *OpusTranscoder) ToOpus(ctx context.Context, inputPath, outDir string) (string, error) {
	base := filepath.Base(inputPath)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	outPath := filepath.Join(outDir, name+".opus")

	args := buildOpusArgs(inputPath, outPath, t.bitrateKbps)

	result, err := t.runner.Run(ctx, t.ffmpegPath, args...)
	if err != nil {
		return "", &TranscodeError{
			Path:     inputPath,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      err,
		}
	}

	if _, err := os.Stat(outPath); err != nil {
		return "", &TranscodeError{
			Path:     inputPath,
			ExitCode: result.ExitCode,
			Stderr:   result.Stderr,
			Err:      fmt.Errorf("ffmpeg completed but output file is missing: %w", err),
		}
	}

	return outPath, nil
}

// buildOpusArgs builds the ffmpeg CLI args for a voice-quality Opus encode.
func buildOpusArgs(inputPath, outPath string, bitrateKbps int) []string {
	return []string{
		"-hide_banner",
		"-nostdin",
		"-y",
		"-i", inputPath,
		"-vn",
		"-acodec", "libopus",
		"-b:a", fmt.Sprintf("%dk", bitrateKbps),
		outPath,
	}
}
