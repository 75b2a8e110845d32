// Package chat builds model requests and normalizes structured replies.
package chat

import (
	"encoding/json"
	"time"

	"github.com/normanking/havenvoice/internal/safety"
	"github.com/normanking/havenvoice/internal/search"
)

// Role identifies who produced a history entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// HistoryEntry is one prior message rendered into the model request.
type HistoryEntry struct {
	Role Role
	Text string
}

// MicroAction is a small, concrete suggested activity offered after a reply.
type MicroAction struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// MusicRequest is a model-issued intent to begin playing mood-appropriate
// audio. It is ephemeral: consumed immediately by the music resolver.
type MusicRequest struct {
	ShouldPlay bool   `json:"shouldPlay"`
	Query      string `json:"query,omitempty"`
	Mood       string `json:"mood,omitempty"`
	MediaID    string `json:"mediaId,omitempty"`
}

// Usage is token accounting reported by the model API.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Reply is a normalized structured model response plus the diagnostics the
// conversation log preserves: the exact request payload, the raw model
// output, and the parse error if normalization failed.
type Reply struct {
	Message      string             `json:"message"`
	SafetyLevel  safety.Level       `json:"safetyLevel"`
	MicroActions []MicroAction      `json:"microActions"`
	MusicRequest *MusicRequest      `json:"musicRequest,omitempty"`
	References   []search.Reference `json:"references,omitempty"`

	RequestPayload json.RawMessage `json:"requestPayload,omitempty"`
	RawOutput      string          `json:"rawOutput,omitempty"`
	ParseError     string          `json:"parseError,omitempty"`
	Latency        time.Duration   `json:"latency"`
	Usage          Usage           `json:"usage"`
	Fallback       bool            `json:"fallback,omitempty"`
}

// Options carries per-turn parameters into Respond.
type Options struct {
	// TurnSeq is the 1-based turn number within the session, used to
	// assign deterministic ids to micro-actions the model left unnamed.
	TurnSeq int
}

// FallbackReply builds the fixed safe response substituted when the model
// call or its parsing fails: an apology, one generic grounding
// micro-action, safe level, no references. Diagnostics from the failed
// attempt, when available, are carried over for the conversation log.
func FallbackReply(diag *Reply) *Reply {
	r := &Reply{
		Message:     "I'm sorry, I'm having a little trouble responding right now. I'm still here with you - take your time, and let's try again in a moment.",
		SafetyLevel: safety.LevelSafe,
		MicroActions: []MicroAction{{
			ID:          "fallback-grounding",
			Title:       "Take three slow breaths",
			Description: "Breathe in for four counts, hold for four, and out for four.",
		}},
		Fallback: true,
	}
	if diag != nil {
		r.RequestPayload = diag.RequestPayload
		r.RawOutput = diag.RawOutput
		r.ParseError = diag.ParseError
		r.Latency = diag.Latency
		r.Usage = diag.Usage
	}
	return r
}
