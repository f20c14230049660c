package dupwalk

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLoggerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogOptions{Format: "json", Level: "info", Output: &buf})
	require.NoError(t, err)

	logger.Debug("hidden")
	logger.Info("shown", "path", "/r/a")

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "shown", rec["msg"])
	assert.Equal(t, "/r/a", rec["path"])

	_, err = NewLogger(LogOptions{Format: "xml", Output: &buf})
	assert.Error(t, err)
}

func TestLevelForVerbosity(t *testing.T) {
	assert.Equal(t, "warn", LevelForVerbosity(0))
	assert.Equal(t, "info", LevelForVerbosity(1))
	assert.Equal(t, "debug", LevelForVerbosity(3))
}

func TestDebugFlags(t *testing.T) {
	defer SetDebugFlags("")

	SetDebugFlags("walk, Store:true ,watch:off")
	assert.True(t, IsDebugEnabled("walk"))
	assert.True(t, IsDebugEnabled("store"))
	assert.False(t, IsDebugEnabled("watch"))
	assert.False(t, IsDebugEnabled("queue"))
}

func TestVerboseLogRespectsLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogOptions{Format: "text", Level: "debug", Output: &buf})
	require.NoError(t, err)
	SetVerboseLogger(logger)
	defer SetVerboseLogger(nil)
	defer SetVerboseLevel(GetVerboseLevel())

	SetVerboseLevel(1)
	VerboseLog(2, "too detailed")
	VerboseLog(1, "walking %s\n", "/r")
	assert.NotContains(t, buf.String(), "too detailed")
	assert.Contains(t, buf.String(), "walking /r")
}
