// Package engine sends audio to a speech-to-text backend.
package engine

import "context"

// Engine transcribes a single audio file.
type Engine interface {
	Transcribe(ctx context.Context, audioPath string) (*Result, error)
}

// Result contains a completed transcription.
type Result struct {
	Text     string
	Language string
	Segments []Segment
}

// Segment is one timed span of recognized speech.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}
