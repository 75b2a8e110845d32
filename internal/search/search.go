// Package search provides the reference-search and music-search collaborators.
package search

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"
)

// Reference is a research citation attached to an assistant reply.
type Reference struct {
	Title   string `json:"title"`
	URL     string `json:"url"`
	Snippet string `json:"snippet"`
}

// Track is a playable media result from the music search.
type Track struct {
	Title     string `json:"title"`
	MediaID   string `json:"mediaId"`
	Thumbnail string `json:"thumbnail,omitempty"`
}

// ReferenceSearcher fetches topical snippets for grounding a reply.
type ReferenceSearcher interface {
	SearchReferences(ctx context.Context, query string, limit int) ([]Reference, error)
}

// MusicSearcher resolves a free-text query to playable tracks.
type MusicSearcher interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]Track, error)
}

// Config holds search collaborator configuration.
type Config struct {
	ReferenceURL string        `json:"reference_url"`
	MusicURL     string        `json:"music_url"`
	APIKey       string        `json:"api_key"`
	Timeout      time.Duration `json:"timeout"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Timeout: 10 * time.Second,
	}
}

// HTTPSearcher implements both search collaborators over a simple
// query/limit HTTP interface. A missing credential is not fatal: each
// search substitutes a fixed default result instead of failing the turn.
type HTTPSearcher struct {
	apiKey string
	client *http.Client
	logger zerolog.Logger
	config *Config
}

// NewHTTPSearcher creates the search client.
func NewHTTPSearcher(config *Config, logger zerolog.Logger) *HTTPSearcher {
	if config == nil {
		config = DefaultConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("HAVENVOICE_SEARCH_API_KEY")
	}

	return &HTTPSearcher{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		logger: logger.With().Str("component", "search").Logger(),
		config: config,
	}
}

// DefaultReference is returned when no search credential is configured.
func DefaultReference() Reference {
	return Reference{
		Title:   "Grounding techniques for difficult moments",
		URL:     "https://www.healthline.com/health/grounding-techniques",
		Snippet: "Simple grounding exercises can help bring attention back to the present moment.",
	}
}

// SearchReferences returns up to limit title/url/snippet entries for query.
func (s *HTTPSearcher) SearchReferences(ctx context.Context, query string, limit int) ([]Reference, error) {
	if s.apiKey == "" || s.config.ReferenceURL == "" {
		s.logger.Debug().Msg("No reference search credential, substituting default result")
		return []Reference{DefaultReference()}, nil
	}

	body, err := s.get(ctx, s.config.ReferenceURL, query, limit)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []Reference `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse reference results: %w", err)
	}
	if len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}
	return result.Results, nil
}

// SearchTracks returns up to limit title/media-id/thumbnail entries for query.
func (s *HTTPSearcher) SearchTracks(ctx context.Context, query string, limit int) ([]Track, error) {
	if s.apiKey == "" || s.config.MusicURL == "" {
		s.logger.Debug().Msg("No music search credential, substituting default result")
		return []Track{{
			Title:   "Weightless - Marconi Union",
			MediaID: "UfcAVejslrU",
		}}, nil
	}

	body, err := s.get(ctx, s.config.MusicURL, query, limit)
	if err != nil {
		return nil, err
	}

	var result struct {
		Results []Track `json:"results"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("failed to parse track results: %w", err)
	}
	if len(result.Results) > limit {
		result.Results = result.Results[:limit]
	}
	return result.Results, nil
}

func (s *HTTPSearcher) get(ctx context.Context, base, query string, limit int) ([]byte, error) {
	u, err := url.Parse(base)
	if err != nil {
		return nil, fmt.Errorf("invalid search URL: %w", err)
	}
	q := u.Query()
	q.Set("q", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		s.logger.Warn().Int("status", resp.StatusCode).Msg("Search API error")
		return nil, fmt.Errorf("search API error: status %d", resp.StatusCode)
	}
	return body, nil
}
