// Package logging builds the process-wide slog logger.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/credo/carbon-engine/internal/config"
)

// New returns a JSON logger writing to stdout and, when cfg.File is set, to a
// size-rotated file. The returned closer releases the file; it is a no-op
// when no file is configured.
func New(cfg config.LogConfig) (*slog.Logger, io.Closer) {
	return NewTo(cfg, os.Stdout)
}

// NewTo is New with the console stream redirected from stdout.
func NewTo(cfg config.LogConfig, console io.Writer) (*slog.Logger, io.Closer) {
	var (
		w      io.Writer = console
		closer io.Closer = nopCloser{}
	)
	if cfg.File != "" {
		rotating := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
			Compress:   true,
		}
		w = io.MultiWriter(console, rotating)
		closer = rotating
	}
	h := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: ParseLevel(cfg.Level)})
	return slog.New(h), closer
}

// Setup builds the logger and installs it as the slog default.
func Setup(cfg config.LogConfig) io.Closer {
	logger, closer := New(cfg)
	slog.SetDefault(logger)
	return closer
}

// ParseLevel maps a level name to slog.Level, defaulting to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
