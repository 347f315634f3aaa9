package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerToJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "warn", Format: "json"})

	logger.Info().Msg("dropped")
	logger.Warn().Str("vendor", "v1").Msg("skipping vendor")

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 1)

	var entry map[string]any
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &entry))
	assert.Equal(t, "warn", entry["level"])
	assert.Equal(t, "v1", entry["vendor"])
	assert.Contains(t, entry, "time")
}

func TestNewLoggerToConsoleAndBadLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLoggerTo(&buf, Config{Level: "nonsense", Format: "console"})

	logger.Debug().Msg("hidden")
	logger.Info().Msg("loss run complete")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "loss run complete")
	assert.False(t, strings.HasPrefix(strings.TrimSpace(out), "{"))
}
