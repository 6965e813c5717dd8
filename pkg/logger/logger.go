// Package logger builds the process's structured slog logger: JSON or text
// handlers, optional file output with lumberjack rotation.
package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Config selects handler format, level and output destination.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json or text
	Output string // stdout, stderr, or file

	// File rotation settings, used when Output == "file".
	Filename   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// NewLogger builds a *slog.Logger from cfg. Unknown values fall back to
// info-level JSON on stdout.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}

	w := newWriter(cfg)
	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}
	return slog.New(handler)
}

// ParseLevel maps a level name onto slog's levels, defaulting to Info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
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

func newWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "stderr":
		return os.Stderr
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		maxSize := cfg.MaxSizeMB
		if maxSize <= 0 {
			maxSize = 100
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    maxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   cfg.Compress,
		}
	default:
		return os.Stdout
	}
}

// WithComponent returns a child logger tagged with the component name, the
// convention every package in this process logs under.
func WithComponent(l *slog.Logger, component string) *slog.Logger {
	if l == nil {
		l = slog.Default()
	}
	return l.With("component", component)
}
