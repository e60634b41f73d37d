package logger_test

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/botchat/internal/logger"
)

func TestParseLevel(t *testing.T) {
	lvl, err := logger.ParseLevel("debug")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, lvl)

	lvl, err = logger.ParseLevel("WARN")
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, lvl)

	_, err = logger.ParseLevel("verbose")
	assert.Error(t, err)
}

func TestNewJSON(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New("info", "json", &buf)

	log.Debug("hidden")
	log.Info("visible", slog.String("addr", "127.0.0.1:1"))

	var record map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &record))
	assert.Equal(t, "visible", record["msg"])
	assert.Equal(t, "127.0.0.1:1", record["addr"])
}

func TestNewTextFallback(t *testing.T) {
	var buf bytes.Buffer
	log := logger.New("nonsense", "", &buf)

	log.Info("hello")
	assert.Contains(t, buf.String(), "msg=hello")
	assert.True(t, logger.ValidFormat("TEXT"))
	assert.False(t, logger.ValidFormat("xml"))
}
