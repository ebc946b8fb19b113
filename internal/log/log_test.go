package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureJSON(t *testing.T, level Level) *bytes.Buffer {
	t.Helper()
	prevLogger, prevLevel := Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})

	var buf bytes.Buffer
	Init(Config{Level: level, JSONOutput: true, Output: &buf})
	return &buf
}

func TestWithUserIDAddsFields(t *testing.T) {
	buf := captureJSON(t, InfoLevel)

	l := WithUserID(WithComponent("checkout"), "u1")
	l.Info().Msg("order placed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "checkout", line["component"])
	assert.Equal(t, "u1", line["user_id"])
	assert.Equal(t, "order placed", line["message"])
}

func TestLevelFilters(t *testing.T) {
	buf := captureJSON(t, WarnLevel)

	Info("hidden")
	assert.Zero(t, buf.Len())

	Warn("shown")
	assert.Contains(t, buf.String(), `"shown"`)
}
