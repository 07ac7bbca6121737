package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout is the default HTTP request timeout for the whisper server.
const DefaultTimeout = 5 * time.Minute

// WhisperServerEngine implements Engine against a self-hosted
// openai-whisper-asr-webservice instance. The model is chosen when the server
// starts, so the configured model size does not travel with the request.
type WhisperServerEngine struct {
	baseURL    string
	language   string
	httpClient *http.Client
}

// WhisperOption configures the WhisperServerEngine.
type WhisperOption func(*WhisperServerEngine)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WhisperOption {
	return func(e *WhisperServerEngine) {
		e.httpClient.Timeout = d
	}
}

// WithLanguage pins the transcription language instead of auto-detection.
func WithLanguage(lang string) WhisperOption {
	return func(e *WhisperServerEngine) {
		e.language = lang
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WhisperOption {
	return func(e *WhisperServerEngine) {
		e.httpClient = client
	}
}

// NewWhisperServerEngine creates an engine that talks to the
// whisper-asr-webservice at baseURL.
func NewWhisperServerEngine(baseURL string, opts ...WhisperOption) *WhisperServerEngine {
	e := &WhisperServerEngine{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Transcribe uploads the audio file and returns the parsed transcription.
func (e *WhisperServerEngine) Transcribe(ctx context.Context, audioPath string) (*Result, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	reqURL, err := e.buildURL()
	if err != nil {
		return nil, fmt.Errorf("build URL: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Accept", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: status %d: %s", resp.StatusCode, string(body))
	}

	return parseWhisperResponse(resp.Body)
}

func (e *WhisperServerEngine) buildURL() (string, error) {
	u, err := url.Parse(e.baseURL)
	if err != nil {
		return "", err
	}

	// Ensure path ends with /asr
	if u.Path == "" || u.Path == "/" {
		u.Path = "/asr"
	}

	q := u.Query()
	q.Set("output", "json")
	q.Set("vad_filter", "true")

	if e.language != "" && e.language != "auto" {
		q.Set("language", e.language)
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

func parseWhisperResponse(body io.Reader) (*Result, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var resp whisperResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("parse JSON response: %w", err)
	}

	return &Result{
		Text:     resp.Text,
		Language: resp.Language,
		Segments: resp.Segments,
	}, nil
}

// whisperResponse represents the JSON response from the whisper-asr-webservice.
type whisperResponse struct {
	Text     string    `json:"text"`
	Language string    `json:"language"`
	Segments []Segment `json:"segments"`
}
