// Package tts provides the speech-synthesis collaborator client.
package tts

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Voices known to sound natural for a companion app.
const (
	VoiceAlloy   = "alloy"
	VoiceEcho    = "echo"
	VoiceNova    = "nova" // warm, recommended default
	VoiceShimmer = "shimmer"
)

// ErrNotConfigured indicates the synthesizer has no API credential.
var ErrNotConfigured = errors.New("speech synthesis not configured")

// Synthesizer converts text to playable audio bytes.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audio []byte, format string, err error)
}

// Config holds synthesis configuration.
type Config struct {
	BaseURL string        `json:"base_url"`
	APIKey  string        `json:"api_key"`
	Model   string        `json:"model"`
	VoiceID string        `json:"voice_id"`
	// Speed above 1.0 speeds delivery while the synthesis backend
	// preserves pitch. A quality knob, not a functional contract.
	Speed   float64       `json:"speed"`
	Timeout time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL: "https://api.openai.com/v1",
		Model:   "tts-1",
		VoiceID: VoiceNova,
		Speed:   1.15,
		Timeout: 30 * time.Second,
	}
}

// HTTPSynthesizer calls an OpenAI-style speech endpoint.
type HTTPSynthesizer struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *Config
}

// NewHTTPSynthesizer creates a synthesizer client.
func NewHTTPSynthesizer(config *Config, logger zerolog.Logger) *HTTPSynthesizer {
	if config == nil {
		config = DefaultConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("HAVENVOICE_TTS_API_KEY")
	}

	return &HTTPSynthesizer{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "tts").Logger(),
		config: config,
	}
}

type speechRequest struct {
	Model          string  `json:"model"`
	Input          string  `json:"input"`
	Voice          string  `json:"voice"`
	ResponseFormat string  `json:"response_format,omitempty"`
	Speed          float64 `json:"speed,omitempty"`
}

// Synthesize converts text to MP3 audio bytes.
func (s *HTTPSynthesizer) Synthesize(ctx context.Context, text string) ([]byte, string, error) {
	if s.apiKey == "" {
		return nil, "", ErrNotConfigured
	}

	startTime := time.Now()

	body, err := json.Marshal(speechRequest{
		Model:          s.config.Model,
		Input:          text,
		Voice:          s.config.VoiceID,
		ResponseFormat: "mp3",
		Speed:          s.config.Speed,
	})
	if err != nil {
		return nil, "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.BaseURL+"/audio/speech", bytes.NewReader(body))
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, "", fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(resp.Body)
		s.logger.Error().Int("status", resp.StatusCode).Str("body", string(errBody)).Msg("Synthesis request failed")
		return nil, "", fmt.Errorf("synthesis API error: status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read response: %w", err)
	}

	s.logger.Debug().Int("audioBytes", len(audio)).Dur("time", time.Since(startTime)).Msg("Synthesis complete")
	return audio, "mp3", nil
}
