package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFormat(t *testing.T) {
	assert.Equal(t, FormatText, ParseFormat("text"))
	assert.Equal(t, FormatText, ParseFormat("HUMAN"))
	assert.Equal(t, FormatJSON, ParseFormat("json"))
	assert.Equal(t, FormatAuto, ParseFormat(""))
	assert.Equal(t, FormatAuto, ParseFormat("nonsense"))
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, ParseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, ParseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, ParseLevel(""))
	assert.Equal(t, slog.LevelInfo, ParseLevel("bogus"))
}

func TestSecretsNeverReachOutput(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "client", FormatJSON, slog.LevelDebug)

	log.Info("connecting", "server", "relay:8752", "shared_secret", "hunter2", "secret_hash", "abc123")

	out := buf.String()
	assert.NotContains(t, out, "hunter2")
	assert.NotContains(t, out, "abc123")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "[redacted]", rec["shared_secret"])
	assert.Equal(t, "[redacted]", rec["secret_hash"])
	assert.Equal(t, "relay:8752", rec["server"])
	assert.Equal(t, "client", rec["component"])
}

func TestComponentAttrOptional(t *testing.T) {
	var buf bytes.Buffer
	log := New(&buf, "", FormatJSON, slog.LevelInfo)
	log.Info("hello")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	_, has := rec["component"]
	assert.False(t, has)
}
