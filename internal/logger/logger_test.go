package logger

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewConsole(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Options{Level: "warn", Console: &buf})
	require.NoError(t, err)

	l.Info("hidden")
	l.Warn("shown", zap.Int("attempt", 2))
	require.NoError(t, l.Sync())

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "shown")
	assert.Contains(t, out, "attempt")
}

func TestNewJSONWithFile(t *testing.T) {
	var buf bytes.Buffer
	path := filepath.Join(t.TempDir(), "chatlink.log")
	l, err := New(Options{Level: "debug", JSON: true, File: path, Console: &buf})
	require.NoError(t, err)

	l.Named("conn").Debug("connecting", zap.String("url", "ws://x"))
	require.NoError(t, l.Sync())

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(strings.TrimSpace(buf.String())), &entry))
	assert.Equal(t, "DEBUG", entry["level"])
	assert.Equal(t, "conn", entry["logger"])
	assert.Equal(t, "ws://x", entry["url"])

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"connecting"`)
}

func TestNewBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}
