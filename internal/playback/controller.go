// Package playback enforces the one-active-utterance playback contract.
package playback

import (
	"context"
	"strings"
	"sync"

	"github.com/normanking/havenvoice/internal/bus"
	"github.com/normanking/havenvoice/internal/tts"
	"github.com/rs/zerolog"
)

// Device is the capability interface over the runtime's audio output. A
// no-op implementation is injected where no audio output exists.
type Device interface {
	// Play starts playing the audio and returns a handle for cancelling it.
	Play(audio []byte, format string) (Handle, error)
}

// Handle is one in-flight playback.
type Handle interface {
	// Stop cancels playback and releases the underlying resource.
	// It must be safe to call more than once.
	Stop()
}

// NopDevice discards audio. Used where no output device exists.
type NopDevice struct{}

func (NopDevice) Play(_ []byte, _ string) (Handle, error) { return nopHandle{}, nil }

type nopHandle struct{}

func (nopHandle) Stop() {}

// Controller synthesizes and plays back exactly one assistant utterance at
// a time. Speak supersedes any prior playback; a user starting to record
// also stops playback, since beginning to talk means they no longer want
// to hear the assistant.
type Controller struct {
	synth    tts.Synthesizer
	device   Device
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu         sync.Mutex
	active     Handle
	generation uint64
}

// NewController creates a playback controller.
func NewController(synth tts.Synthesizer, device Device, eventBus *bus.EventBus, logger zerolog.Logger) *Controller {
	if device == nil {
		device = NopDevice{}
	}
	return &Controller{
		synth:    synth,
		device:   device,
		eventBus: eventBus,
		logger:   logger.With().Str("component", "playback").Logger(),
	}
}

// Speak synthesizes text and plays it, stopping any prior playback first.
// Fire-and-forget: synthesis and playback failures are logged, never
// raised, and never interrupt the session. Empty or whitespace-only text
// is a no-op.
func (c *Controller) Speak(ctx context.Context, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	c.mu.Lock()
	c.stopLocked()
	c.generation++
	gen := c.generation
	c.mu.Unlock()

	go c.run(ctx, gen, text)
}

func (c *Controller) run(ctx context.Context, gen uint64, text string) {
	audio, format, err := c.synth.Synthesize(ctx, text)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Synthesis failed, reply shown without voice")
		return
	}

	c.mu.Lock()
	if gen != c.generation {
		// A newer Speak or Stop superseded this utterance while it was
		// being synthesized.
		c.mu.Unlock()
		return
	}
	handle, err := c.device.Play(audio, format)
	if err != nil {
		c.mu.Unlock()
		c.logger.Warn().Err(err).Msg("Playback failed")
		return
	}
	c.active = handle
	c.mu.Unlock()

	if c.eventBus != nil {
		c.eventBus.Publish(bus.Event{
			Type: bus.EventTypePlaybackStarted,
			Data: map[string]any{"chars": len(text)},
		})
	}
}

// Stop cancels any active playback and invalidates in-flight synthesis.
// Calling Stop when nothing is playing is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	stopped := c.stopLocked()
	c.generation++
	c.mu.Unlock()

	if stopped && c.eventBus != nil {
		c.eventBus.Publish(bus.Event{Type: bus.EventTypePlaybackStopped})
	}
}

func (c *Controller) stopLocked() bool {
	if c.active == nil {
		return false
	}
	c.active.Stop()
	c.active = nil
	return true
}

// Active reports whether a playback handle is currently held.
func (c *Controller) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}
