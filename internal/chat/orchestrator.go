package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/normanking/havenvoice/internal/safety"
	"github.com/normanking/havenvoice/internal/search"
	"github.com/rs/zerolog"
)

// systemPrompt is the fixed behavioral contract sent with every request.
const systemPrompt = `You are Haven, a warm, empathetic voice companion. You listen first and reply briefly, the way a caring friend speaks aloud.

Guidelines:
- Ask gentle, open Socratic questions that help the user explore their own feelings rather than telling them what to do.
- Keep replies short enough to be spoken in under twenty seconds.
- Safety tiers: "safe" means no distress signals; "caution" means despair or hopelessness without danger; "crisis" means any mention of self-harm or harm to others.
- In a crisis, respond with care, encourage reaching out to a trusted person or local crisis line, and never lecture.
- Suggest at most three small, concrete micro-actions the user could try right now.
- If calming or mood-matched music would genuinely help, set a music request with a search query; otherwise leave it off.

You MUST reply with a single JSON object, no surrounding text, of the shape:
{"message": string, "safetyLevel": "safe"|"caution"|"crisis", "microActions": [{"id"?: string, "title": string, "description"?: string}], "musicRequest"?: {"shouldPlay": boolean, "query"?: string, "mood"?: string, "mediaId"?: string}}`

// Config holds orchestrator configuration.
type Config struct {
	BaseURL       string        `json:"base_url"`
	APIKey        string        `json:"api_key"`
	Model         string        `json:"model"`
	Timeout       time.Duration `json:"timeout"`
	MaxReferences int           `json:"max_references"`
	HistoryTurns  int           `json:"history_turns"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:       "https://api.openai.com/v1",
		Model:         "gpt-4o-mini",
		Timeout:       120 * time.Second,
		MaxReferences: 3,
		HistoryTurns:  10,
	}
}

// Orchestrator builds the model request from conversation state and the
// fixed behavioral contract, invokes the remote model, and validates and
// normalizes its structured output.
type Orchestrator struct {
	apiKey string
	client *http.Client
	refs   search.ReferenceSearcher // optional
	logger zerolog.Logger
	config *Config
}

// NewOrchestrator creates an orchestrator. refs may be nil, in which case
// replies carry no references.
func NewOrchestrator(config *Config, refs search.ReferenceSearcher, logger zerolog.Logger) *Orchestrator {
	if config == nil {
		config = DefaultConfig()
	}

	apiKey := config.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("HAVENVOICE_CHAT_API_KEY")
	}

	return &Orchestrator{
		apiKey: apiKey,
		client: &http.Client{Timeout: config.Timeout},
		refs:   refs,
		logger: logger.With().Str("component", "chat").Logger(),
		config: config,
	}
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type apiRequest struct {
	Model          string       `json:"model"`
	Messages       []apiMessage `json:"messages"`
	ResponseFormat struct {
		Type string `json:"type"`
	} `json:"response_format"`
}

type apiResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

// modelOutput is the structure the model is contracted to return.
type modelOutput struct {
	Message      string        `json:"message"`
	SafetyLevel  string        `json:"safetyLevel"`
	MicroActions []MicroAction `json:"microActions"`
	MusicRequest *MusicRequest `json:"musicRequest"`
}

// Respond obtains a normalized structured reply for the user's text. On
// failure the returned error is non-nil and the returned Reply still
// carries whatever diagnostics were gathered (request payload, raw output,
// parse error) so the caller can log them before substituting the
// fallback.
func (o *Orchestrator) Respond(ctx context.Context, userText string, history []HistoryEntry, opts Options) (*Reply, error) {
	startTime := time.Now()
	diag := &Reply{}

	// The reference lookup is sequential: its result is embedded in the
	// model request. Its failure degrades silently to no references.
	references := o.fetchReferences(ctx, userText)

	payload, err := o.buildRequest(userText, history, references)
	if err != nil {
		return diag, fmt.Errorf("failed to build request: %w", err)
	}
	diag.RequestPayload = payload

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.config.BaseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return diag, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+o.apiKey)
	httpReq.Header.Set("Content-Type", "application/json")

	o.logger.Debug().Int("historyLen", len(history)).Int("references", len(references)).Msg("Sending model request")
	resp, err := o.client.Do(httpReq)
	if err != nil {
		diag.Latency = time.Since(startTime)
		return diag, fmt.Errorf("model request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	diag.Latency = time.Since(startTime)
	if err != nil {
		return diag, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		o.logger.Error().Int("status", resp.StatusCode).Str("body", string(body)).Msg("Model API error")
		return diag, fmt.Errorf("model API error: status %d", resp.StatusCode)
	}

	var apiResp apiResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		diag.ParseError = err.Error()
		return diag, fmt.Errorf("failed to parse API envelope: %w", err)
	}
	diag.Usage = apiResp.Usage
	if len(apiResp.Choices) == 0 {
		diag.ParseError = "response contained no choices"
		return diag, fmt.Errorf("model returned no choices")
	}

	raw := apiResp.Choices[0].Message.Content
	diag.RawOutput = raw

	var out modelOutput
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		diag.ParseError = err.Error()
		return diag, fmt.Errorf("model output is not the expected structure: %w", err)
	}
	if strings.TrimSpace(out.Message) == "" {
		diag.ParseError = "model output has empty message"
		return diag, fmt.Errorf("model output has empty message")
	}

	reply := o.normalize(out, references, opts)
	reply.RequestPayload = payload
	reply.RawOutput = raw
	reply.Latency = diag.Latency
	reply.Usage = apiResp.Usage

	o.logger.Info().
		Str("safetyLevel", string(reply.SafetyLevel)).
		Int("microActions", len(reply.MicroActions)).
		Bool("musicRequest", reply.MusicRequest != nil).
		Dur("latency", reply.Latency).
		Msg("Model reply normalized")

	return reply, nil
}

// fetchReferences runs the topical knowledge lookup. Failures never abort
// the turn.
func (o *Orchestrator) fetchReferences(ctx context.Context, userText string) []search.Reference {
	if o.refs == nil || o.config.MaxReferences <= 0 {
		return nil
	}
	refs, err := o.refs.SearchReferences(ctx, userText, o.config.MaxReferences)
	if err != nil {
		o.logger.Debug().Err(err).Msg("Reference lookup failed, continuing without references")
		return nil
	}
	return refs
}

// buildRequest renders the fixed behavioral contract, the prior turns, and
// the current user text into the exact payload sent to the model.
func (o *Orchestrator) buildRequest(userText string, history []HistoryEntry, references []search.Reference) ([]byte, error) {
	var sb strings.Builder

	if len(history) > 0 {
		start := 0
		if o.config.HistoryTurns > 0 && len(history) > o.config.HistoryTurns*2 {
			start = len(history) - o.config.HistoryTurns*2
		}
		sb.WriteString("Previous conversation:\n")
		for _, h := range history[start:] {
			switch h.Role {
			case RoleAssistant:
				fmt.Fprintf(&sb, "Haven: %s\n", h.Text)
			default:
				fmt.Fprintf(&sb, "User: %s\n", h.Text)
			}
		}
		sb.WriteString("\n")
	}

	if len(references) > 0 {
		sb.WriteString("Background notes you may draw on:\n")
		for i, ref := range references {
			fmt.Fprintf(&sb, "[%d] %s - %s (%s)\n", i+1, ref.Title, ref.Snippet, ref.URL)
		}
		sb.WriteString("\n")
	}

	fmt.Fprintf(&sb, "User just said: %s", userText)

	req := apiRequest{
		Model: o.config.Model,
		Messages: []apiMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: sb.String()},
		},
	}
	req.ResponseFormat.Type = "json_object"

	return json.Marshal(req)
}

// normalize validates the parsed model output into a displayable Reply.
func (o *Orchestrator) normalize(out modelOutput, references []search.Reference, opts Options) *Reply {
	// Out-of-range safety values coerce to safe. This is only acceptable
	// because the independent local classifier's stricter value governs
	// the banner; the coercion alone must never be load-bearing.
	level := safety.ParseLevel(out.SafetyLevel)

	actions := out.MicroActions
	if len(actions) > 3 {
		actions = actions[:3]
	}
	for i := range actions {
		if actions[i].ID == "" {
			actions[i] = MicroAction{
				ID:          fmt.Sprintf("r%d-a%d", opts.TurnSeq, i+1),
				Title:       actions[i].Title,
				Description: actions[i].Description,
			}
		}
	}
	if actions == nil {
		actions = []MicroAction{}
	}

	music := out.MusicRequest
	if music != nil && !music.ShouldPlay {
		music = nil
	}

	return &Reply{
		Message:      out.Message,
		SafetyLevel:  level,
		MicroActions: actions,
		MusicRequest: music,
		References:   references,
	}
}
