package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLogFormat(t *testing.T) {
	tests := map[string]LogFormat{
		"json":   LogFormatJSON,
		"JSON":   LogFormatJSON,
		"text":   LogFormatText,
		"pretty": LogFormatPretty,
		"":       LogFormatPretty,
		"xml":    LogFormatPretty,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogFormat(in), "input %q", in)
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"ERROR":   slog.LevelError,
		"info":    slog.LevelInfo,
		"loud":    slog.LevelInfo,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLogLevel(in), "input %q", in)
	}
}

func TestNew_JSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, LogFormatJSON, slog.LevelInfo)
	l.Debug("hidden")
	l.Info("Tool executed", "tool", "spec_extract_content")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)
	var rec map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &rec))
	assert.Equal(t, "Tool executed", rec["msg"])
	assert.Equal(t, "spec_extract_content", rec["tool"])
}

func TestNew_TextAndPretty(t *testing.T) {
	for _, format := range []LogFormat{LogFormatText, LogFormatPretty} {
		var buf bytes.Buffer
		New(&buf, format, slog.LevelWarn).Warn("Publish failed", "run_id", "r1")
		assert.Contains(t, buf.String(), "Publish failed", "format %s", format)
		assert.Contains(t, buf.String(), "r1", "format %s", format)
	}
}
