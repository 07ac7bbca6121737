package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIEngine implements Engine using the hosted OpenAI transcription API.
type OpenAIEngine struct {
	client openai.Client
	model  openai.AudioModel
}

// NewOpenAIEngine creates an engine backed by the OpenAI API. Local whisper
// model sizes such as "base" or "large-v3" map to the hosted whisper-1 model;
// any other value is passed through as an API model name.
func NewOpenAIEngine(apiKey, model string) *OpenAIEngine {
	return &OpenAIEngine{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  mapModel(model),
	}
}

// Transcribe uploads the audio file to the OpenAI API.
func (e *OpenAIEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	params := openai.AudioTranscriptionNewParams{
		File:  file,
		Model: e.model,
	}

	resp, err := e.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("transcription request: %w", err)
	}

	return &Result{Text: resp.Text}, nil
}

func mapModel(size string) openai.AudioModel {
	switch size {
	case "", "tiny", "tiny.en", "base", "base.en", "small", "small.en",
		"medium", "medium.en", "large", "large-v1", "large-v2", "large-v3", "turbo":
		return openai.AudioModelWhisper1
	default:
		return openai.AudioModel(size)
	}
}
