package config

import (
	"io"
	"log/slog"
	"strings"
)

// NewLogger creates a logger writing to w. Unknown levels select info and any
// format other than "json" selects text. It does not touch the default logger.
func NewLogger(level, format string, w io.Writer) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: lvl}
	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

// Logger builds the logger of the logging block, text at info without one
func (f *File) Logger(w io.Writer) *slog.Logger {
	if f.Logging == nil {
		return NewLogger("", "", w)
	}
	return NewLogger(f.Logging.Level, f.Logging.Format, w)
}
