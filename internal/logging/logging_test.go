package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromContext_DefaultsToNop(t *testing.T) {
	logger := FromContext(context.Background())
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}

func TestLogOrder_FieldsAndLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := WithTrader(zerolog.New(&buf), "Ray")
	ctx := WithLogger(context.Background(), logger)

	LogOrder(FromContext(ctx), "SPY", "BUY", 3, "412.10", errors.New("insufficient funds"))

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "warn", line["level"])
	assert.Equal(t, "Ray", line["trader"])
	assert.Equal(t, "SPY", line["symbol"])
	assert.Equal(t, float64(3), line["quantity"])
	assert.Equal(t, "insufficient funds", line["error"])
}

func TestLogCycle(t *testing.T) {
	var buf bytes.Buffer
	LogCycle(zerolog.New(&buf), "trade", "DONE", 2, 1, 1500*time.Millisecond, nil)

	var line map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
	assert.Equal(t, "cycle", line["event"])
	assert.Equal(t, float64(1), line["rejected"])
}

func TestNewLoggerWithConfig_WritesRotatingFile(t *testing.T) {
	cfg := DefaultLogConfig()
	cfg.Console = false
	cfg.FilePath = t.TempDir() + "/logs/floor.log"

	logger := NewLoggerWithConfig(cfg)
	logger.Info().Msg("hello")
	assert.FileExists(t, cfg.FilePath)
}
