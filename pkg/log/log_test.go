package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitJSONOutput(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithComponent("coordinator")
	logger.Warn().Str("message_id", "m-1").Msg("Work item failed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "coordinator", line["component"])
	assert.Equal(t, "m-1", line["message_id"])
	assert.Equal(t, "Work item failed", line["message"])
}

func TestFieldHelpers(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	logger := WithInstanceID("inst-1")
	logger.Info().Msg("heartbeat")
	logger = WithStreamID("order-1")
	logger.Debug().Msg("stream claimed")
	logger = WithMessageID("m-1")
	logger.Error().Msg("message failed")

	out := buf.String()
	assert.Contains(t, out, `"instance_id":"inst-1"`)
	assert.Contains(t, out, `"stream_id":"order-1"`)
	assert.Contains(t, out, `"message_id":"m-1"`)
}
