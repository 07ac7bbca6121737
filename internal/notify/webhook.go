// Package notify delivers transcriptions and status messages to a webhook.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"
)

// DefaultTimeout is the default HTTP request timeout for webhook delivery.
const DefaultTimeout = 30 * time.Second

// DeliveryError is returned when the webhook answers with a non-2xx status.
type DeliveryError struct {
	StatusCode int
	Body       string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("webhook delivery failed: status %d: %s", e.StatusCode, e.Body)
}

// Sink delivers messages to their destination. Delivery is attempted once;
// retrying is not the sink's job.
type Sink interface {
	Send(ctx context.Context, text string) error
	SendFile(ctx context.Context, text, audioPath string) error
}

// WebhookSink implements Sink against a Discord-compatible webhook URL.
type WebhookSink struct {
	url        string
	httpClient *http.Client
}

// WebhookOption configures the WebhookSink.
type WebhookOption func(*WebhookSink)

// WithTimeout sets the HTTP request timeout.
func WithTimeout(d time.Duration) WebhookOption {
	return func(s *WebhookSink) {
		s.httpClient.Timeout = d
	}
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) WebhookOption {
	return func(s *WebhookSink) {
		s.httpClient = client
	}
}

// NewWebhookSink creates a sink that posts to the given webhook URL.
func NewWebhookSink(url string, opts ...WebhookOption) *WebhookSink {
	s := &WebhookSink{
		url: url,
		httpClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// webhookMessage is the JSON payload for a plain text message.
type webhookMessage struct {
	Content string `json:"content"`
}

// Send posts text as a JSON message.
func (s *WebhookSink) Send(ctx context.Context, text string) error {
	payload, err := json.Marshal(webhookMessage{Content: text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

// SendFile posts text together with the file at audioPath as a multipart
// form, the way Discord accepts attachments.
func (s *WebhookSink) SendFile(ctx context.Context, text, audioPath string) error {
	file, err := os.Open(audioPath)
	if err != nil {
		return fmt.Errorf("open attachment: %w", err)
	}
	defer file.Close()

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	if err := writer.WriteField("content", text); err != nil {
		return fmt.Errorf("write content field: %w", err)
	}

	part, err := writer.CreateFormFile("file", filepath.Base(audioPath))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}

	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy attachment data: %w", err)
	}

	if err := writer.Close(); err != nil {
		return fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, &buf)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	return checkStatus(resp)
}

func checkStatus(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		io.Copy(io.Discard, resp.Body)
		return nil
	}

	body, _ := io.ReadAll(resp.Body)
	return &DeliveryError{
		StatusCode: resp.StatusCode,
		Body:       string(body),
	}
}
