// Package music turns model-issued music intents into playable references.
package music

import (
	"context"

	"github.com/google/uuid"
	"github.com/normanking/havenvoice/internal/chat"
	"github.com/normanking/havenvoice/internal/search"
	"github.com/rs/zerolog"
)

// PlayerInstance is a resolved, user-dismissable music player attached to
// the assistant message that suggested it. Players never auto-expire.
type PlayerInstance struct {
	ID        string `json:"id"`
	MessageID string `json:"messageId"`
	MediaID   string `json:"mediaId"`
	Title     string `json:"title"`
}

// Resolver resolves music requests against the media-search collaborator.
type Resolver struct {
	searcher search.MusicSearcher
	logger   zerolog.Logger
}

// NewResolver creates a resolver. searcher may be nil, in which case only
// direct media identifiers resolve.
func NewResolver(searcher search.MusicSearcher, logger zerolog.Logger) *Resolver {
	return &Resolver{
		searcher: searcher,
		logger:   logger.With().Str("component", "music").Logger(),
	}
}

// Resolve turns a music request into a player instance tagged with the
// triggering message. It returns nil when the request carries neither a
// direct media identifier nor a search query, and nil on search failure
// or empty results - a missed music suggestion is not a failure state, so
// no error is ever returned to the turn path.
func (r *Resolver) Resolve(ctx context.Context, req *chat.MusicRequest, triggeringMessageID string) *PlayerInstance {
	if req == nil || !req.ShouldPlay {
		return nil
	}

	if req.MediaID != "" {
		title := req.Mood
		if title == "" {
			title = "Suggested music"
		}
		return &PlayerInstance{
			ID:        uuid.NewString(),
			MessageID: triggeringMessageID,
			MediaID:   req.MediaID,
			Title:     title,
		}
	}

	if req.Query == "" || r.searcher == nil {
		return nil
	}

	tracks, err := r.searcher.SearchTracks(ctx, req.Query, 1)
	if err != nil {
		r.logger.Debug().Err(err).Str("query", req.Query).Msg("Music search failed, skipping player")
		return nil
	}
	if len(tracks) == 0 {
		r.logger.Debug().Str("query", req.Query).Msg("Music search returned nothing")
		return nil
	}

	return &PlayerInstance{
		ID:        uuid.NewString(),
		MessageID: triggeringMessageID,
		MediaID:   tracks[0].MediaID,
		Title:     tracks[0].Title,
	}
}
