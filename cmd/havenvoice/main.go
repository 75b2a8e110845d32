// HavenVoice - guided voice conversations with Haven
package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/normanking/havenvoice/internal/audio"
	"github.com/normanking/havenvoice/internal/bus"
	"github.com/normanking/havenvoice/internal/chat"
	"github.com/normanking/havenvoice/internal/config"
	"github.com/normanking/havenvoice/internal/convlog"
	"github.com/normanking/havenvoice/internal/logging"
	"github.com/normanking/havenvoice/internal/music"
	"github.com/normanking/havenvoice/internal/playback"
	"github.com/normanking/havenvoice/internal/safety"
	"github.com/normanking/havenvoice/internal/search"
	"github.com/normanking/havenvoice/internal/session"
	"github.com/normanking/havenvoice/internal/stt"
	"github.com/normanking/havenvoice/internal/tts"
)

// Global logger instance
var syslog *logging.Logger

// loadEnvFile loads API keys from ~/.havenvoice/.env into the process
// environment. Values already present in the environment win.
func loadEnvFile() {
	home, err := os.UserHomeDir()
	if err != nil {
		syslog.Diagnostic("env", "Could not get home directory", err)
		return
	}

	file, err := os.Open(filepath.Join(home, ".havenvoice", ".env"))
	if err != nil {
		return // File doesn't exist, skip
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	loaded := 0
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), "\"'")
		if os.Getenv(key) == "" {
			os.Setenv(key, value)
			loaded++
		}
	}
	if loaded > 0 {
		zl := syslog.Zerolog()
		zl.Info().Int("count", loaded).Msg("Loaded environment variables from .env")
	}
}

func main() {
	var err error
	syslog, err = logging.New(nil)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer syslog.Close()

	zlogger := syslog.Zerolog()
	zlogger.Info().Msg("HavenVoice starting...")

	loadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		syslog.Diagnostic("config", "Failed to load config, using defaults", err)
		cfg = config.DefaultConfig()
	}

	eventBus := bus.NewEventBus()

	sttClient := stt.NewHTTPClient(&stt.Config{
		BaseURL: cfg.STT.BaseURL,
		APIKey:  cfg.STT.APIKey,
		Model:   cfg.STT.Model,
		Timeout: cfg.STT.Timeout,
	}, zlogger)

	streamCfg := stt.DefaultStreamingConfig()
	if cfg.STT.StreamingURL != "" {
		streamCfg.URL = cfg.STT.StreamingURL
	}
	streamCfg.APIKey = cfg.STT.APIKey
	streamCfg.SampleRate = cfg.Audio.SampleRate
	streamCfg.Channels = cfg.Audio.Channels
	var streamer *stt.StreamingClient
	if cfg.STT.Streaming {
		streamer = stt.NewStreamingClient(streamCfg, zlogger)
	}

	searcher := search.NewHTTPSearcher(&search.Config{
		ReferenceURL: cfg.Search.ReferenceURL,
		MusicURL:     cfg.Search.MusicURL,
		APIKey:       cfg.Search.APIKey,
		Timeout:      cfg.Search.Timeout,
	}, zlogger)

	orchestrator := chat.NewOrchestrator(&chat.Config{
		BaseURL:       cfg.Chat.BaseURL,
		APIKey:        cfg.Chat.APIKey,
		Model:         cfg.Chat.Model,
		Timeout:       cfg.Chat.Timeout,
		MaxReferences: cfg.Chat.MaxReferences,
		HistoryTurns:  cfg.Chat.HistoryTurns,
	}, searcher, zlogger)

	synth := tts.NewHTTPSynthesizer(&tts.Config{
		BaseURL: cfg.TTS.BaseURL,
		APIKey:  cfg.TTS.APIKey,
		Model:   cfg.TTS.Model,
		VoiceID: cfg.TTS.VoiceID,
		Speed:   cfg.TTS.Speed,
		Timeout: cfg.TTS.Timeout,
	}, zlogger)

	// No native output device on a plain terminal; synthesized audio is
	// discarded but the full synthesis path still runs.
	speaker := playback.NewController(synth, playback.NopDevice{}, eventBus, zlogger)

	var store convlog.Store = convlog.NopStore{}
	if cfg.ConvLog.Enabled {
		fileStore, err := convlog.NewFileStore(cfg.ConvLog.Path)
		if err != nil {
			syslog.Diagnostic("convlog", "Failed to open conversation log, turns will not be recorded", err)
		} else {
			store = fileStore
		}
	}

	capture := audio.NewCaptureManager(terminalMic{}, &audio.Config{
		Constraints: audio.Constraints{
			DeviceID:   cfg.Audio.InputDevice,
			SampleRate: cfg.Audio.SampleRate,
			Channels:   cfg.Audio.Channels,
		},
		MimePreferences: cfg.Audio.MimePreferences,
		MaxDuration:     cfg.Audio.MaxDuration,
	}, eventBus, zlogger)

	engine := session.NewEngine(session.Deps{
		Capture:    capture,
		STT:        sttClient,
		Classifier: safety.NewClassifier(safety.DefaultCrisisTerms(), safety.DefaultCautionTerms()),
		Responder:  orchestrator,
		Speaker:    speaker,
		Resolver:   music.NewResolver(searcher, zlogger),
		Store:      store,
		EventBus:   eventBus,
		Logger:     zlogger,
	})

	config.Watch(func(fresh *config.Config) {
		zlogger.Info().Msg("Configuration reloaded")
		*cfg = *fresh
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down...")
		engine.End()
		cancel()
		os.Exit(0)
	}()

	subscribeUI(eventBus)

	if err := engine.Open(ctx); err != nil {
		fmt.Println(audio.Remediation(err))
	}

	runLoop(ctx, engine, streamer, capture, eventBus)

	engine.End()
	zlogger.Info().Msg("HavenVoice exited normally")
}

// subscribeUI renders bus events to the terminal.
func subscribeUI(eventBus *bus.EventBus) {
	eventBus.Subscribe(bus.EventTypeSafetyChanged, func(e bus.Event) {
		if lvl, ok := e.Data["level"].(string); ok && lvl != string(safety.LevelSafe) {
			fmt.Printf("  [safety: %s]\n", lvl)
		}
	})
	eventBus.Subscribe(bus.EventTypeMusicPlayerAdded, func(e bus.Event) {
		fmt.Printf("  [music suggested: %v - use :players to see it]\n", e.Data["title"])
	})
	eventBus.Subscribe(bus.EventTypeTranscriptPartial, func(e bus.Event) {
		fmt.Printf("  ... %v\r", e.Data["text"])
	})
}

// runLoop is the interactive terminal surface.
func runLoop(ctx context.Context, engine *session.Engine, streamer *stt.StreamingClient, capture *audio.CaptureManager, eventBus *bus.EventBus) {
	fmt.Println("HavenVoice - talk to Haven")
	fmt.Println("Commands: :record, :stop, :actions, :pick <n>, :players, :dismiss <n>, :quit")
	fmt.Println("Anything else is sent as a typed message.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return
		}
		line := strings.TrimSpace(scanner.Text())

		switch {
		case line == ":quit":
			if !engine.CanEnd() {
				fmt.Println("Say something first - Haven hasn't had a chance to respond yet.")
				continue
			}
			return

		case line == ":record":
			if err := engine.StartRecording(ctx); err != nil {
				fmt.Println(audio.Remediation(err))
				continue
			}
			fmt.Println("Recording... use :stop when you're done.")
			startPartials(ctx, streamer, capture, eventBus)

		case line == ":stop":
			if err := engine.StopRecording(ctx); err != nil {
				fmt.Println("Nothing is being recorded.")
				continue
			}
			printLastReply(engine)

		case line == ":actions":
			snap := engine.Snapshot()
			if len(snap.Actions) == 0 {
				fmt.Println("No suggestions right now.")
				continue
			}
			for i, a := range snap.Actions {
				fmt.Printf("  %d. %s\n", i+1, a.Title)
			}

		case strings.HasPrefix(line, ":pick "):
			snap := engine.Snapshot()
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":pick ")))
			if err != nil || n < 1 || n > len(snap.Actions) {
				fmt.Println("No such suggestion.")
				continue
			}
			if err := engine.SelectAction(ctx, snap.Actions[n-1].ID); err != nil {
				fmt.Println("Couldn't select that right now:", err)
				continue
			}
			printLastReply(engine)

		case line == ":players":
			snap := engine.Snapshot()
			if len(snap.Players) == 0 {
				fmt.Println("No music playing.")
				continue
			}
			for i, p := range snap.Players {
				fmt.Printf("  %d. %s (%s)\n", i+1, p.Title, p.MediaID)
			}

		case strings.HasPrefix(line, ":dismiss "):
			snap := engine.Snapshot()
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, ":dismiss ")))
			if err != nil || n < 1 || n > len(snap.Players) {
				fmt.Println("No such player.")
				continue
			}
			engine.DismissPlayer(snap.Players[n-1].ID)

		case line == "":
			continue

		default:
			if err := engine.SubmitText(ctx, line); err != nil {
				fmt.Println("Haven is still responding, one moment.")
				continue
			}
			printLastReply(engine)
		}
	}
}

// startPartials feeds live audio chunks to the streaming transcriber and
// publishes interim captions on the bus while the user speaks.
// Best-effort: without a streaming credential or a chunked recorder it
// silently does nothing.
func startPartials(ctx context.Context, streamer *stt.StreamingClient, capture *audio.CaptureManager, eventBus *bus.EventBus) {
	if streamer == nil || !streamer.Available() {
		return
	}
	chunks := capture.Chunks()
	if chunks == nil {
		return
	}
	partials, err := streamer.Stream(ctx, chunks)
	if err != nil {
		return
	}
	go func() {
		for p := range partials {
			eventBus.Publish(bus.Event{
				Type: bus.EventTypeTranscriptPartial,
				Data: map[string]any{"text": p.Text, "final": p.IsFinal},
			})
		}
	}()
}

func printLastReply(engine *session.Engine) {
	snap := engine.Snapshot()
	if len(snap.Messages) < 2 {
		return
	}
	last := snap.Messages[len(snap.Messages)-1]
	fmt.Printf("\nHaven: %s\n", last.Text)
	for _, ref := range last.References {
		fmt.Printf("  ref: %s (%s)\n", ref.Title, ref.URL)
	}
	if len(snap.Actions) > 0 {
		fmt.Println("  (suggestions available - :actions to list them)")
	}
}
