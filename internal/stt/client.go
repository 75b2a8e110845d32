// Package stt provides speech-to-text transcription for HavenVoice.
package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"time"

	"github.com/normanking/havenvoice/internal/audio"
	"github.com/rs/zerolog"
)

// FallbackTranscript is spoken-for the user when transcription fails or
// comes back empty; the turn proceeds with it so the user is never left
// stuck mid-conversation.
const FallbackTranscript = "I'm sorry, I couldn't quite catch that. Could you share that with me again?"

// Common errors
var (
	ErrEmptySegment = errors.New("audio segment is empty")
	ErrEmptyResult  = errors.New("transcription returned no text")
)

// Client converts a captured audio segment to text.
type Client interface {
	Transcribe(ctx context.Context, seg audio.Segment) (string, error)
}

// Config holds transcription configuration.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.groq.com/openai/v1",
		Model:   "whisper-large-v3-turbo",
		Timeout: 30 * time.Second,
	}
}

// HTTPClient posts audio to a Whisper-style transcription endpoint.
// It performs no local retry; the caller falls back on failure.
type HTTPClient struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *Config
}

// NewHTTPClient creates a transcription client.
func NewHTTPClient(config *Config, logger zerolog.Logger) *HTTPClient {
	if config == nil {
		config = DefaultConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("HAVENVOICE_STT_API_KEY")
	}

	return &HTTPClient{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "stt").Logger(),
		config: config,
	}
}

// Transcribe uploads the segment as multipart form data with a media-type
// hint and model selector, and returns the recognized text.
func (c *HTTPClient) Transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	startTime := time.Now()

	if seg.Empty() {
		return "", ErrEmptySegment
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)

	part, err := writer.CreateFormFile("file", "utterance"+extensionFor(seg.MimeType))
	if err != nil {
		return "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := part.Write(seg.Data); err != nil {
		return "", fmt.Errorf("failed to write audio data: %w", err)
	}
	if err := writer.WriteField("model", c.config.Model); err != nil {
		return "", fmt.Errorf("failed to write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to close multipart writer: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/audio/transcriptions", &buf)
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("Content-Type", writer.FormDataContentType())

	c.logger.Debug().Int("audioBytes", len(seg.Data)).Str("mimeType", seg.MimeType).Msg("Sending audio for transcription")
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("transcription request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		c.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Transcription API error")
		return "", fmt.Errorf("transcription API error: status %d", resp.StatusCode)
	}

	var result struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if result.Text == "" {
		return "", ErrEmptyResult
	}

	c.logger.Info().Str("text", result.Text).Dur("time", time.Since(startTime)).Msg("Transcription complete")
	return result.Text, nil
}

// extensionFor maps a MIME type to a filename extension for the upload.
func extensionFor(mimeType string) string {
	switch {
	case mimeType == "audio/wav":
		return ".wav"
	case mimeType == "audio/mpeg":
		return ".mp3"
	case len(mimeType) >= 9 && mimeType[:9] == "audio/ogg":
		return ".ogg"
	default:
		return ".webm"
	}
}
