// Package audio provides microphone capture management for HavenVoice.
package audio

import (
	"context"
	"errors"
	"time"
)

// Capture failure causes. Each maps to distinct user-facing remediation
// text; see Remediation.
var (
	ErrPermissionDenied       = errors.New("microphone permission denied")
	ErrNoDevice               = errors.New("no microphone device found")
	ErrDeviceBusy             = errors.New("microphone device busy")
	ErrUnsupportedConstraints = errors.New("unsupported capture constraints")
	ErrInsecureContext        = errors.New("insecure transport context")
	ErrCaptureUnsupported     = errors.New("audio capture not supported by runtime")
	ErrRecorderInit           = errors.New("recorder construction failed")
	ErrNoSupportedEncoding    = errors.New("no supported capture encoding")
	ErrNotRecording           = errors.New("no recording in progress")
	ErrAlreadyRecording       = errors.New("recording already in progress")
)

// Remediation returns actionable user-facing text for a capture error.
func Remediation(err error) string {
	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "Microphone access was denied. Please allow microphone access in your settings and try again."
	case errors.Is(err, ErrNoDevice):
		return "No microphone was found. Please connect a microphone and try again."
	case errors.Is(err, ErrDeviceBusy):
		return "Your microphone is in use by another application. Close it and try again."
	case errors.Is(err, ErrUnsupportedConstraints):
		return "Your microphone does not support the requested audio settings."
	case errors.Is(err, ErrInsecureContext):
		return "Voice input requires a secure connection."
	case errors.Is(err, ErrCaptureUnsupported):
		return "Voice input is not supported in this environment. You can still type your message."
	case errors.Is(err, ErrRecorderInit):
		return "Recording could not be started. Please try again."
	default:
		return "Something went wrong with the microphone. Please try again."
	}
}

// Constraints describes the desired capture stream parameters.
type Constraints struct {
	DeviceID   string
	SampleRate int
	Channels   int
}

// Relaxed returns default constraints with all preferences dropped, used
// for the single automatic retry after ErrUnsupportedConstraints.
func (c Constraints) Relaxed() Constraints {
	return Constraints{}
}

// Segment is one captured utterance.
type Segment struct {
	Data       []byte
	MimeType   string
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// Empty reports whether the segment carries no audio.
func (s Segment) Empty() bool {
	return len(s.Data) == 0
}

// Device is the capability interface over the runtime's audio input. A
// no-op or fake implementation is injected where no microphone exists.
type Device interface {
	// Secure reports whether the transport context allows capture.
	Secure() bool
	// Supported reports whether the runtime can capture audio at all.
	Supported() bool
	// SupportsEncoding reports whether the runtime can record the MIME type.
	SupportsEncoding(mimeType string) bool
	// Acquire opens an exclusive capture stream. Failure causes must map
	// onto the sentinel errors above.
	Acquire(ctx context.Context, c Constraints) (Stream, error)
}

// Stream is a held capture stream. Exactly one exists per session; it is
// reused across recordings and closed only on session teardown.
type Stream interface {
	// NewRecorder constructs a recorder for the given encoding.
	NewRecorder(mimeType string) (Recorder, error)
	// Close releases all underlying tracks.
	Close()
}

// Recorder records one utterance.
type Recorder interface {
	Start() error
	// Stop finalizes the recording and returns the captured segment.
	Stop() (Segment, error)
}

// ChunkSource is optionally implemented by recorders that can emit raw
// audio chunks while recording, feeding the streaming transcriber.
type ChunkSource interface {
	Chunks() <-chan []byte
}
