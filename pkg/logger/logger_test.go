package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"warning", slog.LevelWarn},
		{"error", slog.LevelError},
		{"ERROR", slog.LevelError},
		{" info ", slog.LevelInfo},
		{"", slog.LevelInfo},
		{"bogus", slog.LevelInfo},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseLevel(tt.in), "level %q", tt.in)
	}
}

func TestNewLoggerJSONFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "json.log")
	l := NewLogger(Config{Level: "info", Format: "json", Output: "file", Filename: path})
	l.Info("reload completed", "snapshot_id", 3)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "reload completed", entry["msg"])
	assert.EqualValues(t, 3, entry["snapshot_id"])
}

func TestNewLoggerLevelFiltering(t *testing.T) {
	l := NewLogger(Config{Level: "warn", Format: "json"})
	assert.False(t, l.Enabled(nil, slog.LevelInfo))
	assert.True(t, l.Enabled(nil, slog.LevelWarn))
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "engine.log")
	l := NewLogger(Config{Level: "info", Format: "json", Output: "file", Filename: path})
	l.Info("started")
	// lumberjack creates the file lazily on first write
	assert.FileExists(t, path)
}

func TestWithComponent(t *testing.T) {
	var buf bytes.Buffer
	base := slog.New(slog.NewJSONHandler(&buf, nil))
	WithComponent(base, "detect.orchestrator").Info("phase completed")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "detect.orchestrator", entry["component"])

	assert.NotNil(t, WithComponent(nil, "x"))
}
