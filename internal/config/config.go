// Package config provides configuration management for HavenVoice
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	Audio    AudioConfig    `mapstructure:"audio"`
	STT      STTConfig      `mapstructure:"stt"`
	Chat     ChatConfig     `mapstructure:"chat"`
	TTS      TTSConfig      `mapstructure:"tts"`
	Search   SearchConfig   `mapstructure:"search"`
	ConvLog  ConvLogConfig  `mapstructure:"conv_log"`
	LogLevel string         `mapstructure:"log_level"`
}

// AudioConfig configures microphone capture
type AudioConfig struct {
	InputDevice string        `mapstructure:"input_device"`
	SampleRate  int           `mapstructure:"sample_rate"`
	Channels    int           `mapstructure:"channels"`
	MaxDuration time.Duration `mapstructure:"max_duration"`
	// MimePreferences is the ordered list of capture encodings to try.
	MimePreferences []string `mapstructure:"mime_preferences"`
}

// STTConfig configures the transcription collaborator
type STTConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	Timeout time.Duration `mapstructure:"timeout"`
	// Streaming enables live partial transcripts over WebSocket while recording.
	Streaming    bool   `mapstructure:"streaming"`
	StreamingURL string `mapstructure:"streaming_url"`
}

// ChatConfig configures the AI response collaborator
type ChatConfig struct {
	BaseURL       string        `mapstructure:"base_url"`
	APIKey        string        `mapstructure:"api_key"`
	Model         string        `mapstructure:"model"`
	Timeout       time.Duration `mapstructure:"timeout"`
	MaxReferences int           `mapstructure:"max_references"`
	HistoryTurns  int           `mapstructure:"history_turns"`
}

// TTSConfig configures speech synthesis and playback
type TTSConfig struct {
	BaseURL string        `mapstructure:"base_url"`
	APIKey  string        `mapstructure:"api_key"`
	Model   string        `mapstructure:"model"`
	VoiceID string        `mapstructure:"voice_id"`
	Speed   float64       `mapstructure:"speed"` // above 1.0 speeds playback, pitch preserved
	Timeout time.Duration `mapstructure:"timeout"`
}

// SearchConfig configures the reference-search and music-search collaborators
type SearchConfig struct {
	ReferenceURL string        `mapstructure:"reference_url"`
	MusicURL     string        `mapstructure:"music_url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
}

// ConvLogConfig configures the durable conversation log
type ConvLogConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Audio: AudioConfig{
			SampleRate:  16000,
			Channels:    1,
			MaxDuration: 2 * time.Minute,
			MimePreferences: []string{
				"audio/webm;codecs=opus",
				"audio/webm",
				"audio/ogg;codecs=opus",
				"audio/wav",
			},
		},
		STT: STTConfig{
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "whisper-large-v3-turbo",
			Timeout: 30 * time.Second,
		},
		Chat: ChatConfig{
			BaseURL:       "https://api.openai.com/v1",
			Model:         "gpt-4o-mini",
			Timeout:       120 * time.Second,
			MaxReferences: 3,
			HistoryTurns:  10,
		},
		TTS: TTSConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "tts-1",
			VoiceID: "nova",
			Speed:   1.15,
			Timeout: 30 * time.Second,
		},
		Search: SearchConfig{
			Timeout: 10 * time.Second,
		},
		ConvLog: ConvLogConfig{
			Enabled: true,
			Path:    filepath.Join(home, ".havenvoice", "conversations.jsonl"),
		},
		LogLevel: "info",
	}
}

// Load reads configuration from file and environment
func Load() (*Config, error) {
	cfg := DefaultConfig()

	configDir, err := Dir()
	if err != nil {
		return cfg, err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return cfg, err
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("HAVENVOICE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return cfg, err
		}
		// Config file not found, use defaults and create one
		if err := Save(cfg); err != nil {
			return cfg, err
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// Save writes the configuration to file
func Save(cfg *Config) error {
	configDir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	viper.Set("audio", cfg.Audio)
	viper.Set("stt", cfg.STT)
	viper.Set("chat", cfg.Chat)
	viper.Set("tts", cfg.TTS)
	viper.Set("search", cfg.Search)
	viper.Set("conv_log", cfg.ConvLog)
	viper.Set("log_level", cfg.LogLevel)

	return viper.WriteConfigAs(filepath.Join(configDir, "config.yaml"))
}

// Watch re-reads the config file on change and invokes onChange with the
// fresh configuration. Unparseable edits are ignored; the previous
// configuration stays in effect.
func Watch(onChange func(*Config)) {
	viper.OnConfigChange(func(_ fsnotify.Event) {
		cfg := DefaultConfig()
		if err := viper.Unmarshal(cfg); err != nil {
			return
		}
		onChange(cfg)
	})
	viper.WatchConfig()
}

// Dir returns the configuration directory path
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".havenvoice"), nil
}
