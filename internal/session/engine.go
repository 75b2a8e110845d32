package session

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/havenvoice/internal/audio"
	"github.com/normanking/havenvoice/internal/bus"
	"github.com/normanking/havenvoice/internal/chat"
	"github.com/normanking/havenvoice/internal/convlog"
	"github.com/normanking/havenvoice/internal/music"
	"github.com/normanking/havenvoice/internal/safety"
	"github.com/normanking/havenvoice/internal/stt"
)

// Transcriber converts a recorded segment to text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg audio.Segment) (string, error)
}

// Responder obtains a structured assistant reply for the user's text.
type Responder interface {
	Respond(ctx context.Context, userText string, history []chat.HistoryEntry, opts chat.Options) (*chat.Reply, error)
}

// Speaker voices assistant replies. Fire-and-forget.
type Speaker interface {
	Speak(ctx context.Context, text string)
	Stop()
}

// MusicResolver turns a music request into a player instance, or nil.
type MusicResolver interface {
	Resolve(ctx context.Context, req *chat.MusicRequest, triggeringMessageID string) *music.PlayerInstance
}

// Engine is the session coordinator. It owns the state machine, the
// message sequence, the displayed safety level, suggested micro-actions
// and active music players, and it sequences exactly one turn at a time.
//
// All mutable state lives behind one mutex; the state field is the sole
// serialization mechanism for turns. Entry points that start a turn
// (StopRecording, SubmitText, SelectAction) block until the turn settles
// back to idle, so callers that need concurrency run them in their own
// goroutines.
type Engine struct {
	capture  *audio.CaptureManager
	stt      Transcriber
	classify *safety.Classifier
	respond  Responder
	speaker  Speaker
	resolver MusicResolver
	store    convlog.Store
	eventBus *bus.EventBus
	logger   zerolog.Logger

	mu          sync.Mutex
	id          string
	state       State
	safetyLevel safety.Level
	messages    []Message
	actions     []chat.MicroAction
	players     []music.PlayerInstance
	turnSeq     int

	// appends tracks detached log writes so End can drain them.
	appends sync.WaitGroup
}

// Deps bundles the engine's collaborators.
type Deps struct {
	Capture    *audio.CaptureManager
	STT        Transcriber
	Classifier *safety.Classifier
	Responder  Responder
	Speaker    Speaker
	Resolver   MusicResolver
	Store      convlog.Store
	EventBus   *bus.EventBus
	Logger     zerolog.Logger
}

// NewEngine creates a session in the idle state with a fresh id.
func NewEngine(deps Deps) *Engine {
	classifier := deps.Classifier
	if classifier == nil {
		classifier = safety.NewClassifier(nil, nil)
	}
	store := deps.Store
	if store == nil {
		store = convlog.NopStore{}
	}
	return &Engine{
		capture:     deps.Capture,
		stt:         deps.STT,
		classify:    classifier,
		respond:     deps.Responder,
		speaker:     deps.Speaker,
		resolver:    deps.Resolver,
		store:       store,
		eventBus:    deps.EventBus,
		logger:      deps.Logger.With().Str("component", "session").Logger(),
		id:          uuid.NewString(),
		state:       StateIdle,
		safetyLevel: safety.LevelSafe,
	}
}

// ID returns the session identifier.
func (e *Engine) ID() string { return e.id }

// Open eagerly acquires the microphone so permission prompts surface
// before the user needs to speak. Acquisition failure is reported to the
// caller but leaves the session usable: typed turns still work, and
// StartRecording retries acquisition on demand.
func (e *Engine) Open(ctx context.Context) error {
	if e.capture == nil {
		return nil
	}
	if err := e.capture.Acquire(ctx); err != nil {
		e.logger.Warn().Err(err).Msg("Eager microphone acquisition failed")
		return err
	}
	return nil
}

// Snapshot returns a copy of the visible session state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	snap := Snapshot{
		ID:          e.id,
		State:       e.state,
		SafetyLevel: e.safetyLevel,
		Messages:    make([]Message, len(e.messages)),
		Actions:     make([]chat.MicroAction, len(e.actions)),
		Players:     make([]music.PlayerInstance, len(e.players)),
	}
	copy(snap.Messages, e.messages)
	copy(snap.Actions, e.actions)
	copy(snap.Players, e.players)
	return snap
}

// State returns the current state machine phase.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// StartRecording begins capturing a voice turn. Only valid from idle;
// a concurrent turn is rejected, never queued. Starting to record stops
// any active assistant playback first: the user beginning to talk means
// they no longer want to hear the assistant.
func (e *Engine) StartRecording(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	// Claim the state under the lock; a failed start reverts to idle
	// without ever having announced the recording.
	e.state = StateRecording
	e.mu.Unlock()

	if e.speaker != nil {
		e.speaker.Stop()
	}

	err := audio.ErrCaptureUnsupported
	if e.capture != nil {
		err = e.capture.StartRecording(ctx)
	}
	if err != nil {
		e.mu.Lock()
		e.state = StateIdle
		e.mu.Unlock()
		return err
	}

	e.publishState(StateRecording)
	return nil
}

// StopRecording finalizes the recording and runs the full turn:
// transcription, classification and reply in parallel, playback, music
// resolution, and a detached log append. It returns once the session is
// idle again. A failed or empty transcription does not abort the turn;
// a fixed apology transcript is substituted so the user still receives
// an assistant response.
func (e *Engine) StopRecording(ctx context.Context) error {
	e.mu.Lock()
	if e.state != StateRecording {
		e.mu.Unlock()
		return ErrNotRecording
	}
	e.state = StateProcessing
	e.mu.Unlock()
	e.publishState(StateProcessing)

	text := stt.FallbackTranscript
	seg, err := e.capture.StopRecording()
	if err != nil {
		e.logger.Warn().Err(err).Msg("Recording finalization failed, using fallback transcript")
	} else if transcript, terr := e.transcribe(ctx, seg); terr != nil {
		e.logger.Warn().Err(terr).Msg("Transcription failed, using fallback transcript")
	} else {
		text = transcript
	}

	e.runTurn(ctx, TurnInput{Kind: TurnVoice, Text: text})
	return nil
}

func (e *Engine) transcribe(ctx context.Context, seg audio.Segment) (string, error) {
	if e.stt == nil {
		return "", stt.ErrEmptyResult
	}
	text, err := e.stt.Transcribe(ctx, seg)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(text) == "" {
		return "", stt.ErrEmptyResult
	}
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeTranscript,
			Data: map[string]any{"text": text},
		})
	}
	return text, nil
}

// SubmitText runs a typed turn. Only valid from idle.
func (e *Engine) SubmitText(ctx context.Context, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	// Typed input skips recording/processing: the transcript already exists.
	e.state = StateResponding
	e.mu.Unlock()
	e.publishState(StateResponding)

	e.runTurn(ctx, TurnInput{Kind: TurnTyped, Text: text})
	return nil
}

// SelectAction runs a full turn for a suggested micro-action: the
// selection is recorded as a user message carrying a selection marker,
// the model responds to it, and the turn is logged with its own type.
// Only valid from idle; the id must match a currently suggested action.
func (e *Engine) SelectAction(ctx context.Context, actionID string) error {
	e.mu.Lock()
	if e.state != StateIdle {
		e.mu.Unlock()
		return ErrBusy
	}
	var selected *chat.MicroAction
	for i := range e.actions {
		if e.actions[i].ID == actionID {
			a := e.actions[i]
			selected = &a
			break
		}
	}
	if selected == nil {
		e.mu.Unlock()
		return ErrUnknownAction
	}
	e.state = StateResponding
	e.mu.Unlock()
	e.publishState(StateResponding)

	e.runTurn(ctx, TurnInput{
		Kind:   TurnMicroAction,
		Text:   fmt.Sprintf("[Selected action] %s", selected.Title),
		Action: selected,
	})
	return nil
}

// runTurn executes one complete turn from the processing/idle boundary
// through to idle. A panic anywhere in the turn is recovered at this
// boundary: the session returns to idle so the user can try again.
func (e *Engine) runTurn(ctx context.Context, input TurnInput) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().Interface("panic", r).Msg("Turn panicked, session restored to idle")
			if e.eventBus != nil {
				e.eventBus.Publish(bus.Event{
					Type: bus.EventTypeTurnError,
					Data: map[string]any{"panic": fmt.Sprint(r)},
				})
			}
			e.setState(StateIdle)
		}
	}()

	e.mu.Lock()
	e.turnSeq++
	turnSeq := e.turnSeq
	history := e.historyLocked()
	userMsg := Message{
		ID:        uuid.NewString(),
		Role:      chat.RoleUser,
		Text:      input.Text,
		CreatedAt: time.Now().UTC(),
	}
	e.messages = append(e.messages, userMsg)
	e.mu.Unlock()
	e.publishMessage(userMsg)

	e.setState(StateResponding)

	// Safety classification and the model reply run concurrently; both
	// must land before the displayed level updates.
	var (
		wg         sync.WaitGroup
		localLevel safety.Level
		reply      *chat.Reply
		replyErr   error
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		localLevel = e.classify.Classify(input.Text)
	}()
	go func() {
		defer wg.Done()
		defer func() {
			if r := recover(); r != nil {
				reply = nil
				replyErr = fmt.Errorf("responder panicked: %v", r)
			}
		}()
		if e.respond == nil {
			replyErr = fmt.Errorf("no responder configured")
			return
		}
		reply, replyErr = e.respond.Respond(ctx, input.Text, history, chat.Options{TurnSeq: turnSeq})
	}()
	wg.Wait()

	if replyErr != nil {
		e.logger.Error().Err(replyErr).Msg("Model turn failed, substituting fallback reply")
		reply = chat.FallbackReply(reply)
	}

	// The stricter of the local classification and the model's own
	// assessment governs the displayed level.
	displayed := safety.Stricter(localLevel, reply.SafetyLevel)

	assistantMsg := Message{
		ID:         uuid.NewString(),
		Role:       chat.RoleAssistant,
		Text:       reply.Message,
		CreatedAt:  time.Now().UTC(),
		References: reply.References,
	}

	e.mu.Lock()
	levelChanged := displayed != e.safetyLevel
	e.safetyLevel = displayed
	e.messages = append(e.messages, assistantMsg)
	// The suggestion list always reflects the latest reply: a reply
	// without actions clears any stale ones.
	e.actions = append([]chat.MicroAction(nil), reply.MicroActions...)
	e.mu.Unlock()

	if levelChanged {
		e.publishSafety(displayed)
	}
	e.publishMessage(assistantMsg)
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeActionsReplaced,
			Data: map[string]any{"count": len(reply.MicroActions)},
		})
	}

	if e.speaker != nil {
		// Playback outlives the turn; it must not die with the caller's
		// context.
		e.speaker.Speak(context.WithoutCancel(ctx), reply.Message)
	}

	if reply.MusicRequest != nil && e.resolver != nil {
		if player := e.resolver.Resolve(ctx, reply.MusicRequest, assistantMsg.ID); player != nil {
			e.mu.Lock()
			e.players = append(e.players, *player)
			e.mu.Unlock()
			if e.eventBus != nil {
				e.eventBus.Publish(bus.Event{
					Type: bus.EventTypeMusicPlayerAdded,
					Data: map[string]any{"player_id": player.ID, "title": player.Title},
				})
			}
		}
	}

	e.appendRecord(input, userMsg, reply)

	e.setState(StateIdle)
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeTurnCompleted,
			Data: map[string]any{"turn_seq": turnSeq, "fallback": reply.Fallback},
		})
	}
}

// appendRecord writes the turn's conversation-log record in a detached
// goroutine. The append is never awaited by the turn: a slow or failing
// store cannot delay or break the conversation, and failures surface
// only through diagnostics.
func (e *Engine) appendRecord(input TurnInput, userMsg Message, reply *chat.Reply) {
	turnType := convlog.TurnUserMessage
	if input.Kind == TurnMicroAction {
		turnType = convlog.TurnMicroActionClick
	}
	rec := convlog.Record{
		SessionID:      e.id,
		TurnID:         uuid.NewString(),
		Timestamp:      time.Now().UTC(),
		TurnType:       turnType,
		UserText:       userMsg.Text,
		Reply:          reply,
		RequestPayload: reply.RequestPayload,
		RawOutput:      reply.RawOutput,
		ParseError:     reply.ParseError,
		LatencyMS:      reply.Latency.Milliseconds(),
		Usage:          reply.Usage,
	}

	e.appends.Add(1)
	go func() {
		defer e.appends.Done()
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Msg("Log append panicked")
			}
		}()
		if err := e.store.Append(rec); err != nil {
			e.logger.Error().Err(err).Str("turnId", rec.TurnID).Msg("Failed to append conversation record")
			if e.eventBus != nil {
				e.eventBus.Publish(bus.Event{
					Type: bus.EventTypeLogAppendFailed,
					Data: map[string]any{"turn_id": rec.TurnID, "error": err.Error()},
				})
			}
		}
	}()
}

// DismissPlayer removes a music player. Dismissal is the only way a
// player goes away; players never auto-expire.
func (e *Engine) DismissPlayer(playerID string) bool {
	e.mu.Lock()
	removed := false
	for i := range e.players {
		if e.players[i].ID == playerID {
			e.players = append(e.players[:i], e.players[i+1:]...)
			removed = true
			break
		}
	}
	e.mu.Unlock()

	if removed && e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeMusicPlayerRemoved,
			Data: map[string]any{"player_id": playerID},
		})
	}
	return removed
}

// CanEnd reports whether the session has at least one assistant message,
// the gate the surface applies before offering session end.
func (e *Engine) CanEnd() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, m := range e.messages {
		if m.Role == chat.RoleAssistant {
			return true
		}
	}
	return false
}

// End tears the session down: playback stops, the microphone is
// released, and pending log appends are drained.
func (e *Engine) End() {
	if e.speaker != nil {
		e.speaker.Stop()
	}
	if e.capture != nil {
		e.capture.Release()
	}
	e.appends.Wait()
	e.setState(StateIdle)
	e.logger.Info().Str("sessionId", e.id).Msg("Session ended")
}

// historyLocked renders the message sequence as model history. Callers
// hold e.mu.
func (e *Engine) historyLocked() []chat.HistoryEntry {
	history := make([]chat.HistoryEntry, 0, len(e.messages))
	for _, m := range e.messages {
		history = append(history, chat.HistoryEntry{Role: m.Role, Text: m.Text})
	}
	return history
}

func (e *Engine) setState(s State) {
	e.mu.Lock()
	if e.state == s {
		e.mu.Unlock()
		return
	}
	e.state = s
	e.mu.Unlock()
	e.publishState(s)
}

func (e *Engine) publishState(s State) {
	e.logger.Debug().Str("state", string(s)).Msg("Session state changed")
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSessionStateChanged,
			Data: map[string]any{"state": string(s)},
		})
	}
}

func (e *Engine) publishSafety(level safety.Level) {
	e.logger.Info().Str("level", string(level)).Msg("Safety level changed")
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeSafetyChanged,
			Data: map[string]any{"level": string(level)},
		})
	}
}

func (e *Engine) publishMessage(m Message) {
	if e.eventBus != nil {
		e.eventBus.Publish(bus.Event{
			Type: bus.EventTypeMessageAdded,
			Data: map[string]any{"message_id": m.ID, "role": string(m.Role)},
		})
	}
}
