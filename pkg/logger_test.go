package pkg

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger_FiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(&buf, "warn")

	logger.Info("dropped")
	logger.Warn("kept", "epoch", 3)

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "kept", line["msg"])
	assert.Equal(t, float64(3), line["epoch"])
}

func TestParseLevel_DefaultsToDebug(t *testing.T) {
	assert.Equal(t, "DEBUG", parseLevel("").String())
	assert.Equal(t, "ERROR", parseLevel("ERROR").String())
}
