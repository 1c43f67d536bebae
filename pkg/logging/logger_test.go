package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "info", "text")

	logger.Debug("ceremony session state", "challenge_id", "abc")
	assert.Zero(t, buf.Len(), "debug output must be suppressed at info level")

	logger.Info("Request completed", "status", 200)
	assert.Contains(t, buf.String(), "Request completed")
	assert.Contains(t, buf.String(), "status=200")
}

func TestDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "debug", "text")

	logger.Debug("ceremony session state", "challenge_id", "abc")
	assert.Contains(t, buf.String(), "challenge_id=abc")
}

func TestJSONFormat(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "warn", "json")

	logger.Warnf("counter regression for subject %q", "user@example.com")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "WARN", entry["level"])
	assert.Contains(t, entry["msg"], "counter regression")
}

func TestUnknownLevelDefaultsToInfo(t *testing.T) {
	var buf bytes.Buffer
	logger := NewWithWriter(&buf, "verbose", "text")

	logger.Debug("hidden")
	assert.Zero(t, buf.Len())

	logger.Info("visible")
	assert.Contains(t, buf.String(), "visible")
}
