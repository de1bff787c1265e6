package logging

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewJSONLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("debug", "json", &buf)
	require.NoError(t, err)

	log.Debug().Str("detector", "abuse_detection").Msg("analyzed")

	var line map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &line))
	assert.Equal(t, "debug", line["level"])
	assert.Equal(t, "abuse_detection", line["detector"])
	assert.Equal(t, "sentinel", line["service"])
}

func TestNewFiltersBelowLevel(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("warn", "", &buf)
	require.NoError(t, err)

	log.Info().Msg("quiet")
	assert.Zero(t, buf.Len())
}

func TestNewConsoleLogger(t *testing.T) {
	var buf bytes.Buffer
	log, err := New("info", "console", &buf)
	require.NoError(t, err)

	log.Info().Msg("ready")
	assert.Contains(t, buf.String(), "ready")
}

func TestNewRejectsUnknownSettings(t *testing.T) {
	_, err := New("loud", "json", nil)
	assert.Error(t, err)

	_, err = New("info", "xml", nil)
	assert.Error(t, err)
}
