package audio

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/normanking/havenvoice/internal/bus"
	"github.com/rs/zerolog"
)

// Config holds capture configuration.
type Config struct {
	Constraints Constraints
	// MimePreferences is the ordered list of encodings to try.
	MimePreferences []string
	// MaxDuration bounds a single recording (0 = unbounded).
	MaxDuration time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Constraints: Constraints{
			SampleRate: 16000,
			Channels:   1,
		},
		MimePreferences: []string{
			"audio/webm;codecs=opus",
			"audio/webm",
			"audio/ogg;codecs=opus",
			"audio/wav",
		},
		MaxDuration: 2 * time.Minute,
	}
}

// CaptureManager owns the microphone stream and recording lifecycle.
// The stream is acquired eagerly when the session view opens so permission
// prompts surface before the user needs to speak, then reused across
// recordings and released only on teardown.
type CaptureManager struct {
	device   Device
	config   *Config
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu       sync.Mutex
	stream   Stream
	recorder Recorder
	started  time.Time
}

// NewCaptureManager creates a capture manager over the given device.
func NewCaptureManager(device Device, config *Config, eventBus *bus.EventBus, logger zerolog.Logger) *CaptureManager {
	if config == nil {
		config = DefaultConfig()
	}
	return &CaptureManager{
		device:   device,
		config:   config,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "audio").Logger(),
	}
}

// Acquire obtains the capture stream if not already held. Failure causes
// are classified into the package sentinel errors; an unsupported-constraints
// failure triggers exactly one retry with relaxed defaults.
func (m *CaptureManager) Acquire(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquireLocked(ctx)
}

func (m *CaptureManager) acquireLocked(ctx context.Context) error {
	if m.stream != nil {
		return nil
	}

	if !m.device.Secure() {
		return ErrInsecureContext
	}
	if !m.device.Supported() {
		return ErrCaptureUnsupported
	}

	stream, err := m.device.Acquire(ctx, m.config.Constraints)
	if errors.Is(err, ErrUnsupportedConstraints) {
		m.logger.Warn().Err(err).Msg("Constraints rejected, retrying with defaults")
		stream, err = m.device.Acquire(ctx, m.config.Constraints.Relaxed())
	}
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to acquire capture stream")
		if m.eventBus != nil {
			m.eventBus.Publish(bus.Event{
				Type: bus.EventTypeCaptureError,
				Data: map[string]any{"error": err.Error(), "remediation": Remediation(err)},
			})
		}
		return err
	}

	m.stream = stream
	m.logger.Info().Msg("Capture stream acquired")
	return nil
}

// Acquired reports whether a capture stream is currently held.
func (m *CaptureManager) Acquired() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stream != nil
}

// StartRecording begins capturing one utterance. The stream is re-acquired
// on demand if the eager acquisition failed or was revoked.
func (m *CaptureManager) StartRecording(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recorder != nil {
		return ErrAlreadyRecording
	}
	if err := m.acquireLocked(ctx); err != nil {
		return err
	}

	mimeType, err := m.pickEncoding()
	if err != nil {
		return err
	}

	rec, err := m.stream.NewRecorder(mimeType)
	if err != nil {
		// Recorder construction failure is reported distinctly, never a
		// silent fallback to another encoding.
		return fmt.Errorf("%w: %v", ErrRecorderInit, err)
	}
	if err := rec.Start(); err != nil {
		return fmt.Errorf("%w: %v", ErrRecorderInit, err)
	}

	m.recorder = rec
	m.started = time.Now()
	m.logger.Debug().Str("mimeType", mimeType).Msg("Recording started")

	if m.eventBus != nil {
		m.eventBus.Publish(bus.Event{
			Type: bus.EventTypeRecordingStarted,
			Data: map[string]any{"mime_type": mimeType},
		})
	}
	return nil
}

// pickEncoding selects the first runtime-supported encoding from the
// ordered preference list.
func (m *CaptureManager) pickEncoding() (string, error) {
	for _, mime := range m.config.MimePreferences {
		if m.device.SupportsEncoding(mime) {
			return mime, nil
		}
	}
	return "", ErrNoSupportedEncoding
}

// Recording reports whether a recording is in progress.
func (m *CaptureManager) Recording() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recorder != nil
}

// Chunks exposes the live chunk feed of the active recorder, or nil when
// the recorder cannot stream. Used by the partial-transcript pipeline.
func (m *CaptureManager) Chunks() <-chan []byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	if src, ok := m.recorder.(ChunkSource); ok {
		return src.Chunks()
	}
	return nil
}

// StopRecording finalizes the active recording and returns the segment.
func (m *CaptureManager) StopRecording() (Segment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recorder == nil {
		return Segment{}, ErrNotRecording
	}

	seg, err := m.recorder.Stop()
	m.recorder = nil
	if err != nil {
		m.logger.Error().Err(err).Msg("Failed to stop recording")
		return Segment{}, err
	}

	if seg.Duration == 0 {
		seg.Duration = time.Since(m.started)
	}
	m.logger.Debug().Dur("duration", seg.Duration).Int("bytes", len(seg.Data)).Msg("Recording stopped")

	if m.eventBus != nil {
		m.eventBus.Publish(bus.Event{
			Type: bus.EventTypeRecordingStopped,
			Data: map[string]any{"duration": seg.Duration, "bytes": len(seg.Data)},
		})
	}
	return seg, nil
}

// Release stops any active recording and closes the stream, releasing all
// underlying tracks. Called on session teardown.
func (m *CaptureManager) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.recorder != nil {
		_, _ = m.recorder.Stop()
		m.recorder = nil
	}
	if m.stream != nil {
		m.stream.Close()
		m.stream = nil
		m.logger.Info().Msg("Capture stream released")
	}
}
