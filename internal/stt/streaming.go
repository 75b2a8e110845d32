package stt

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Partial is an interim transcript produced while the user is still
// speaking. Partials drive live captions only; the final transcript for a
// turn always comes from Client.Transcribe on the full segment.
type Partial struct {
	Text    string
	IsFinal bool
}

// StreamingConfig configures the WebSocket transcription stream.
type StreamingConfig struct {
	URL        string        `json:"url"`
	APIKey     string        `json:"api_key"`
	Model      string        `json:"model"`
	SampleRate int           `json:"sample_rate"`
	Channels   int           `json:"channels"`
	Timeout    time.Duration `json:"timeout"`
}

// DefaultStreamingConfig returns sensible defaults.
func DefaultStreamingConfig() *StreamingConfig {
	return &StreamingConfig{
		URL:        "wss://api.deepgram.com/v1/listen",
		Model:      "nova-2",
		SampleRate: 16000,
		Channels:   1,
		Timeout:    30 * time.Second,
	}
}

// StreamingClient pushes live audio chunks over a WebSocket and yields
// partial transcripts as the remote recognizer produces them.
type StreamingClient struct {
	config *StreamingConfig
	logger zerolog.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

// NewStreamingClient creates a streaming transcription client.
func NewStreamingClient(config *StreamingConfig, logger zerolog.Logger) *StreamingClient {
	if config == nil {
		config = DefaultStreamingConfig()
	}
	return &StreamingClient{
		config: config,
		logger: logger.With().Str("component", "stt-stream").Logger(),
	}
}

// Available reports whether the client has the credential it needs.
func (c *StreamingClient) Available() bool {
	return c.config.APIKey != ""
}

type streamMessage struct {
	Type    string `json:"type"`
	IsFinal bool   `json:"is_final"`
	Channel struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

// Stream connects, forwards chunks from audioIn, and emits partials until
// audioIn closes or ctx is cancelled. The returned channel is closed when
// the stream ends. Connection failure returns an error immediately; mid-
// stream failures end the partial feed silently, since captions are a
// best-effort surface.
func (c *StreamingClient) Stream(ctx context.Context, audioIn <-chan []byte) (<-chan Partial, error) {
	if !c.Available() {
		return nil, fmt.Errorf("streaming transcription credential not configured")
	}

	url := fmt.Sprintf("%s?model=%s&encoding=linear16&sample_rate=%d&channels=%d&interim_results=true",
		c.config.URL, c.config.Model, c.config.SampleRate, c.config.Channels)

	header := http.Header{}
	header.Set("Authorization", "Token "+c.config.APIKey)

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			c.logger.Error().Int("status", resp.StatusCode).Err(err).Msg("Streaming STT connection failed")
		}
		return nil, fmt.Errorf("websocket dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	partials := make(chan Partial, 32)

	// Writer: forward audio chunks until the feed closes.
	go func() {
		defer c.closeConn()
		for {
			select {
			case <-ctx.Done():
				return
			case chunk, ok := <-audioIn:
				if !ok {
					// Signal end-of-audio so the recognizer flushes.
					_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"CloseStream"}`))
					return
				}
				if err := conn.WriteMessage(websocket.BinaryMessage, chunk); err != nil {
					c.logger.Warn().Err(err).Msg("Streaming STT write failed")
					return
				}
			}
		}
	}()

	// Reader: emit partials until the connection ends.
	go func() {
		defer close(partials)
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg streamMessage
			if err := json.Unmarshal(data, &msg); err != nil {
				continue
			}
			if len(msg.Channel.Alternatives) == 0 {
				continue
			}
			text := msg.Channel.Alternatives[0].Transcript
			if text == "" {
				continue
			}
			select {
			case partials <- Partial{Text: text, IsFinal: msg.IsFinal}:
			case <-ctx.Done():
				return
			}
		}
	}()

	return partials, nil
}

func (c *StreamingClient) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}
