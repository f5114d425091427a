package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func jsonLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var entries []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(out.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNew_LevelFiltering(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		wantLevel []string
	}{
		{name: "debug logs everything", level: "debug", wantLevel: []string{"DEBUG", "INFO", "WARN", "ERROR"}},
		{name: "info drops debug", level: "info", wantLevel: []string{"INFO", "WARN", "ERROR"}},
		{name: "warn", level: "warn", wantLevel: []string{"WARN", "ERROR"}},
		{name: "error", level: "error", wantLevel: []string{"ERROR"}},
		{name: "case insensitive", level: "ERROR", wantLevel: []string{"ERROR"}},
		{name: "unknown defaults to info", level: "loud", wantLevel: []string{"INFO", "WARN", "ERROR"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := &bytes.Buffer{}
			l, err := New(&Config{Level: tt.level, Format: "json", writer: out})
			require.NoError(t, err)

			l.Debug("d")
			l.Info("i")
			l.Warn("w")
			l.Error("e")

			var got []string
			for _, entry := range jsonLines(t, out) {
				got = append(got, entry["level"].(string))
			}
			assert.Equal(t, tt.wantLevel, got)
		})
	}
}

func TestNew_JSONRecord(t *testing.T) {
	out := &bytes.Buffer{}
	l, err := New(&Config{Level: "info", Format: "json", EnableSource: true, writer: out})
	require.NoError(t, err)

	l.Info("task queued", slog.String("task_id", "abc"), slog.Int("inputs", 3))

	entries := jsonLines(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "task queued", entries[0]["msg"])
	assert.Equal(t, "abc", entries[0]["task_id"])
	assert.Equal(t, float64(3), entries[0]["inputs"])
	assert.Contains(t, entries[0], "time")

	source, ok := entries[0]["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_ConsoleFormats(t *testing.T) {
	for _, format := range []string{"console", "text", ""} {
		t.Run("format="+format, func(t *testing.T) {
			out := &bytes.Buffer{}
			l, err := New(&Config{Level: "info", Format: format, writer: out})
			require.NoError(t, err)

			l.Info("console test")
			// tint abbreviates levels
			assert.Contains(t, out.String(), "INF")
			assert.Contains(t, out.String(), "console test")
		})
	}
}

func TestNew_ServiceAttrs(t *testing.T) {
	out := &bytes.Buffer{}
	l, err := New(&Config{Format: "json", Service: "face-blur-worker", Version: "1.2.0", writer: out})
	require.NoError(t, err)

	l.Component("sweeper").Info("swept")

	entries := jsonLines(t, out)
	require.Len(t, entries, 1)
	assert.Equal(t, "face-blur-worker", entries[0]["service"])
	assert.Equal(t, "1.2.0", entries[0]["version"])
	assert.Equal(t, "sweeper", entries[0]["component"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "api.log")

	l, err := New(&Config{
		Level:  "info",
		Format: "console",
		Output: path,
	})
	require.NoError(t, err)

	l.Info("written to file", slog.String("task_id", "abc"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "written to file")
	assert.Contains(t, string(data), "task_id=abc")
	assert.NotContains(t, string(data), "\x1b[", "file output has no color codes")
}

func TestNew_UnwritableFile(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	_, err := New(&Config{Output: filepath.Join(blocker, "api.log")})
	assert.Error(t, err)
}

func TestLogger_CloseWithoutFile(t *testing.T) {
	l, err := New(&Config{Format: "text", writer: &bytes.Buffer{}})
	require.NoError(t, err)
	assert.NoError(t, l.Close())
}
