package tts

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testSynth(baseURL string) *HTTPSynthesizer {
	return NewHTTPSynthesizer(&Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "tts-1",
		VoiceID: VoiceNova,
		Speed:   1.15,
		Timeout: 5 * time.Second,
	}, zerolog.Nop())
}

func TestSynthesize_Success(t *testing.T) {
	var gotReq speechRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/audio/speech" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if auth := r.Header.Get("Authorization"); auth != "Bearer test-key" {
			t.Errorf("unexpected auth header %q", auth)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("failed to decode request: %v", err)
		}
		w.Write([]byte("mp3-bytes"))
	}))
	defer server.Close()

	audio, format, err := testSynth(server.URL).Synthesize(context.Background(), "Hello there")
	if err != nil {
		t.Fatalf("Synthesize failed: %v", err)
	}
	if string(audio) != "mp3-bytes" {
		t.Errorf("unexpected audio %q", audio)
	}
	if format != "mp3" {
		t.Errorf("expected mp3 format, got %q", format)
	}
	if gotReq.Input != "Hello there" || gotReq.Voice != VoiceNova {
		t.Errorf("unexpected request %+v", gotReq)
	}
	if gotReq.Speed != 1.15 {
		t.Errorf("expected speed forwarded, got %v", gotReq.Speed)
	}
}

func TestSynthesize_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	if _, _, err := testSynth(server.URL).Synthesize(context.Background(), "hi"); err == nil {
		t.Fatal("expected error on server failure")
	}
}

func TestSynthesize_MissingCredential(t *testing.T) {
	t.Setenv("HAVENVOICE_TTS_API_KEY", "")
	s := NewHTTPSynthesizer(&Config{BaseURL: "http://localhost"}, zerolog.Nop())

	_, _, err := s.Synthesize(context.Background(), "hi")
	if !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}
