package main

import (
	"context"
	"os"

	"github.com/normanking/havenvoice/internal/audio"
)

// terminalMic is the audio device for the terminal surface. A plain
// terminal has no native capture stack, so recording reads a prepared
// audio file named by HAVENVOICE_AUDIO_FILE: :record arms the device and
// :stop submits the file's contents as the utterance. Without that
// variable set, voice input reports unsupported and typed input remains
// available.
type terminalMic struct{}

func (terminalMic) Secure() bool { return true }

func (terminalMic) Supported() bool {
	return os.Getenv("HAVENVOICE_AUDIO_FILE") != ""
}

// Prepared files are WAV; other encodings are declined so the capture
// manager tags the segment correctly.
func (terminalMic) SupportsEncoding(mimeType string) bool {
	return mimeType == "audio/wav"
}

func (terminalMic) Acquire(_ context.Context, _ audio.Constraints) (audio.Stream, error) {
	path := os.Getenv("HAVENVOICE_AUDIO_FILE")
	if path == "" {
		return nil, audio.ErrNoDevice
	}
	return &fileStream{path: path}, nil
}

type fileStream struct{ path string }

func (s *fileStream) NewRecorder(mimeType string) (audio.Recorder, error) {
	return &fileRecorder{path: s.path, mimeType: mimeType}, nil
}

func (s *fileStream) Close() {}

type fileRecorder struct {
	path     string
	mimeType string
}

func (r *fileRecorder) Start() error { return nil }

func (r *fileRecorder) Stop() (audio.Segment, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		return audio.Segment{}, err
	}
	return audio.Segment{Data: data, MimeType: r.mimeType}, nil
}
