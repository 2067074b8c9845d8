package log

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func lastLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	var entry map[string]any
	require.NoError(t, json.Unmarshal(lines[len(lines)-1], &entry))
	return entry
}

func TestChildLoggerFields(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: DebugLevel, JSONOutput: true, Output: &buf})

	WithComponent("bus").Info().Msg("sweep")
	entry := lastLine(t, &buf)
	assert.Equal(t, "bus", entry["component"])
	assert.Equal(t, "sweep", entry["message"])

	WithAgent("weather").Debug().Msg("dispatch")
	assert.Equal(t, "weather", lastLine(t, &buf)["agent"])

	WithRunID("run-1").Info().Msg("step")
	assert.Equal(t, "run-1", lastLine(t, &buf)["run_id"])

	WithJobID("job-1").Warn().Msg("fired")
	assert.Equal(t, "job-1", lastLine(t, &buf)["job_id"])
}

func TestLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	Init(Config{Level: WarnLevel, JSONOutput: true, Output: &buf})

	WithComponent("x").Info().Msg("dropped")
	assert.Zero(t, buf.Len())

	WithComponent("x").Error().Msg("kept")
	assert.Equal(t, "kept", lastLine(t, &buf)["message"])
}
