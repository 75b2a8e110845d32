// Package session owns conversation state and sequences one turn at a time.
package session

import (
	"errors"
	"time"

	"github.com/normanking/havenvoice/internal/chat"
	"github.com/normanking/havenvoice/internal/music"
	"github.com/normanking/havenvoice/internal/safety"
	"github.com/normanking/havenvoice/internal/search"
)

// State is the session state machine's current phase. A new turn may start
// only from StateIdle; concurrent submissions are rejected, never queued.
type State string

const (
	StateIdle       State = "idle"
	StateRecording  State = "recording"
	StateProcessing State = "processing"
	StateResponding State = "responding"
)

// Engine operation errors.
var (
	ErrBusy          = errors.New("a turn is already in progress")
	ErrNotRecording  = errors.New("not currently recording")
	ErrUnknownAction = errors.New("unknown micro-action")
)

// Message is one immutable conversation entry. Appended to the session's
// sequence, never mutated or removed.
type Message struct {
	ID         string             `json:"id"`
	Role       chat.Role          `json:"role"`
	Text       string             `json:"text"`
	CreatedAt  time.Time          `json:"createdAt"`
	References []search.Reference `json:"references,omitempty"`
}

// Snapshot is a copy of the session's visible state, safe to read while
// turns run.
type Snapshot struct {
	ID          string
	State       State
	SafetyLevel safety.Level
	Messages    []Message
	Actions     []chat.MicroAction
	Players     []music.PlayerInstance
}

// TurnKind tags how a turn's input arrived.
type TurnKind string

const (
	TurnVoice       TurnKind = "voice"
	TurnTyped       TurnKind = "typed"
	TurnMicroAction TurnKind = "microAction"
)

// TurnInput is the tagged variant all entry points funnel into.
type TurnInput struct {
	Kind   TurnKind
	Text   string            // typed text, or the voice transcript
	Action *chat.MicroAction // set for TurnMicroAction
}
