package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARNING"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("unknown"))
}

func TestNewJSONHandlerWritesFields(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "info", Format: "json", Output: &buf})

	logger.Info("execution finished", ExecutionIDKey, "exec-1", DurationKey, int64(42))

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "execution finished", line["msg"])
	assert.Equal(t, "exec-1", line[ExecutionIDKey])
	assert.Equal(t, float64(42), line[DurationKey])
}

func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(&Config{Level: "error", Format: "text", Output: &buf})

	logger.Debug("hidden")
	logger.Info("hidden too")
	assert.Zero(t, buf.Len())

	logger.Error("shown")
	assert.Contains(t, buf.String(), "shown")
}

func TestFromEnvDebugOverride(t *testing.T) {
	t.Setenv("FLOWLINE_DEBUG", "1")
	t.Setenv("LOG_LEVEL", "error")

	cfg := FromEnv()
	assert.Equal(t, "debug", cfg.Level)
}
