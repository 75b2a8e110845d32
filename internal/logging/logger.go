// Package logging provides structured logging with file and console output.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// LogLevel represents logging levels
type LogLevel string

const (
	LevelDebug LogLevel = "debug"
	LevelInfo  LogLevel = "info"
	LevelWarn  LogLevel = "warn"
	LevelError LogLevel = "error"
)

// Entry is a single captured diagnostic entry kept in the in-memory history.
// Suppressed failures (logging errors, swallowed synthesis errors) end up
// here so they can be inspected without digging through the log file.
type Entry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Component string `json:"component"`
	Message   string `json:"message"`
	Error     string `json:"error,omitempty"`
}

// Logger wraps zerolog with file output and a bounded diagnostic history.
type Logger struct {
	zlog    zerolog.Logger
	file    *os.File
	logPath string

	mu      sync.RWMutex
	history []Entry
	maxHist int
	onEntry func(Entry) // optional diagnostic-channel callback
}

// Config holds logger configuration
type Config struct {
	LogDir     string   // Directory for log files (default: ~/.havenvoice/logs)
	Level      LogLevel // Minimum log level (default: info)
	MaxHistory int      // Max entries to keep in memory (default: 500)
	Console    bool     // Also log to console (default: true)
}

// DefaultConfig returns sensible defaults
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		LogDir:     filepath.Join(home, ".havenvoice", "logs"),
		Level:      LevelInfo,
		MaxHistory: 500,
		Console:    true,
	}
}

// New creates a new Logger with file and console output
func New(cfg *Config) (*Logger, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if err := os.MkdirAll(cfg.LogDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	logFileName := fmt.Sprintf("havenvoice_%s.log", time.Now().Format("2006-01-02"))
	logPath := filepath.Join(cfg.LogDir, logFileName)

	file, err := os.OpenFile(logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}

	writers := []io.Writer{file}
	if cfg.Console {
		writers = append(writers, zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: "15:04:05",
		})
	}

	level := zerolog.InfoLevel
	switch cfg.Level {
	case LevelDebug:
		level = zerolog.DebugLevel
	case LevelWarn:
		level = zerolog.WarnLevel
	case LevelError:
		level = zerolog.ErrorLevel
	}
	zerolog.SetGlobalLevel(level)

	zlog := zerolog.New(io.MultiWriter(writers...)).With().
		Timestamp().
		Str("app", "havenvoice").
		Logger()

	l := &Logger{
		zlog:    zlog,
		file:    file,
		logPath: logPath,
		history: make([]Entry, 0, cfg.MaxHistory),
		maxHist: cfg.MaxHistory,
	}

	l.zlog.Info().Str("logFile", logPath).Str("level", string(cfg.Level)).Msg("Logger initialized")
	return l, nil
}

// Component returns a zerolog.Logger with the component field set.
func (l *Logger) Component(name string) zerolog.Logger {
	return l.zlog.With().Str("component", name).Logger()
}

// Zerolog returns the underlying zerolog.Logger.
func (l *Logger) Zerolog() zerolog.Logger {
	return l.zlog
}

// SetOnEntry sets a callback invoked for every diagnostic entry recorded
// via Diagnostic. Used by front ends that stream internal errors live.
func (l *Logger) SetOnEntry(fn func(Entry)) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onEntry = fn
}

// Diagnostic records a suppressed failure. These never reach the user-facing
// flow; they exist for offline diagnosis only.
func (l *Logger) Diagnostic(component, msg string, err error) {
	event := l.zlog.Warn().Str("component", component)
	errStr := ""
	if err != nil {
		event = event.Err(err)
		errStr = err.Error()
	}
	event.Msg(msg)

	entry := Entry{
		Timestamp: time.Now().Format("15:04:05.000"),
		Level:     "warn",
		Component: component,
		Message:   msg,
		Error:     errStr,
	}

	l.mu.Lock()
	l.history = append(l.history, entry)
	if len(l.history) > l.maxHist {
		l.history = l.history[len(l.history)-l.maxHist:]
	}
	cb := l.onEntry
	l.mu.Unlock()

	if cb != nil {
		go cb(entry)
	}
}

// History returns up to limit most recent diagnostic entries.
func (l *Logger) History(limit int) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if limit <= 0 || limit > len(l.history) {
		limit = len(l.history)
	}
	start := len(l.history) - limit

	result := make([]Entry, limit)
	copy(result, l.history[start:])
	return result
}

// Path returns the current log file path.
func (l *Logger) Path() string {
	return l.logPath
}

// Close closes the log file.
func (l *Logger) Close() error {
	l.zlog.Info().Msg("Logger shutting down")
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
