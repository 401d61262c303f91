// Package logger builds the process slog handler. Output always goes to the
// writer passed in (stderr in the binaries), never stdout, which carries the
// MCP stdio transport.
package logger

import (
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
)

// LogFormat represents the available log output formats
type LogFormat string

const (
	LogFormatPretty LogFormat = "pretty" // Colorized, human-readable (tint)
	LogFormatJSON   LogFormat = "json"   // JSON lines
	LogFormatText   LogFormat = "text"   // key=value pairs
)

// New creates a logger writing to w in the given format and level.
func New(w io.Writer, format LogFormat, level slog.Level) *slog.Logger {
	var handler slog.Handler

	switch format {
	case LogFormatJSON:
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	case LogFormatText:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	case LogFormatPretty:
		fallthrough
	default:
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.DateTime,
		})
	}

	return slog.New(handler)
}

// Init creates a logger like New and installs it as the slog default.
func Init(w io.Writer, format LogFormat, level slog.Level) *slog.Logger {
	l := New(w, format, level)
	slog.SetDefault(l)
	return l
}

// ParseLogFormat converts a string to LogFormat, defaulting to pretty
func ParseLogFormat(s string) LogFormat {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "json":
		return LogFormatJSON
	case "text":
		return LogFormatText
	default:
		return LogFormatPretty
	}
}

// ParseLogLevel converts a string to slog.Level, defaulting to Info
func ParseLogLevel(s string) slog.Level {
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
