package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"notification-inspector/internal/config"
)

type Logger struct {
	l *slog.Logger
}

func New(cfg *config.Config) *Logger {
	var out io.Writer = os.Stdout
	level := slog.LevelInfo
	if cfg != nil {
		level = parseLevel(cfg.LogLevel)
		if cfg.LogPath != "" {
			_ = os.MkdirAll(filepath.Dir(cfg.LogPath), 0o755)
			f, err := os.OpenFile(cfg.LogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
			if err == nil {
				out = io.MultiWriter(os.Stdout, f)
			}
		}
	}
	return NewWriter(out, level)
}

// NewWriter logs JSON lines to w. Tests pass io.Discard.
func NewWriter(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	return &Logger{l: slog.New(handler)}
}

// Nop discards everything.
func Nop() *Logger { return NewWriter(io.Discard, slog.LevelError) }

func parseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (lg *Logger) With(args ...any) *Logger { return &Logger{l: lg.l.With(args...)} }

func (lg *Logger) Info(msg string, args ...any)  { lg.l.Info(msg, args...) }
func (lg *Logger) Warn(msg string, args ...any)  { lg.l.Warn(msg, args...) }
func (lg *Logger) Error(msg string, args ...any) { lg.l.Error(msg, args...) }
func (lg *Logger) Debug(msg string, args ...any) { lg.l.Debug(msg, args...) }
