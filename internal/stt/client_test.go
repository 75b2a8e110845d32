package stt

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/normanking/havenvoice/internal/audio"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSegment() audio.Segment {
	return audio.Segment{Data: []byte("fake-audio"), MimeType: "audio/webm"}
}

func TestHTTPClient_Transcribe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/audio/transcriptions", r.URL.Path)
		require.Contains(t, r.Header.Get("Content-Type"), "multipart/form-data")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-large-v3-turbo", r.FormValue("model"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.True(t, strings.HasSuffix(header.Filename, ".webm"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text":"hello there"}`))
	}))
	defer server.Close()

	client := NewHTTPClient(&Config{
		BaseURL: server.URL,
		APIKey:  "test-key",
		Model:   "whisper-large-v3-turbo",
	}, zerolog.Nop())

	text, err := client.Transcribe(context.Background(), testSegment())
	require.NoError(t, err)
	assert.Equal(t, "hello there", text)
}

func TestHTTPClient_Transcribe_ServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewHTTPClient(&Config{BaseURL: server.URL, APIKey: "k"}, zerolog.Nop())

	_, err := client.Transcribe(context.Background(), testSegment())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 503")
}

func TestHTTPClient_Transcribe_EmptyBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// 200 with an empty body must surface as an error, not a panic.
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewHTTPClient(&Config{BaseURL: server.URL, APIKey: "k"}, zerolog.Nop())

	_, err := client.Transcribe(context.Background(), testSegment())
	require.Error(t, err)
}

func TestHTTPClient_Transcribe_EmptyText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"text":""}`))
	}))
	defer server.Close()

	client := NewHTTPClient(&Config{BaseURL: server.URL, APIKey: "k"}, zerolog.Nop())

	_, err := client.Transcribe(context.Background(), testSegment())
	assert.ErrorIs(t, err, ErrEmptyResult)
}

func TestHTTPClient_Transcribe_EmptySegment(t *testing.T) {
	client := NewHTTPClient(&Config{BaseURL: "http://unused", APIKey: "k"}, zerolog.Nop())

	_, err := client.Transcribe(context.Background(), audio.Segment{})
	assert.ErrorIs(t, err, ErrEmptySegment)
}

func TestStreamingClient_RequiresCredential(t *testing.T) {
	client := NewStreamingClient(&StreamingConfig{}, zerolog.Nop())

	assert.False(t, client.Available())

	_, err := client.Stream(context.Background(), make(chan []byte))
	require.Error(t, err)
}

func TestExtensionFor(t *testing.T) {
	tests := []struct {
		mime string
		want string
	}{
		{"audio/webm;codecs=opus", ".webm"},
		{"audio/webm", ".webm"},
		{"audio/ogg;codecs=opus", ".ogg"},
		{"audio/wav", ".wav"},
		{"audio/mpeg", ".mp3"},
		{"", ".webm"},
	}

	for _, tc := range tests {
		if got := extensionFor(tc.mime); got != tc.want {
			t.Errorf("extensionFor(%q) = %q, want %q", tc.mime, got, tc.want)
		}
	}
}
