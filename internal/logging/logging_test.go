package logging

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSetupLevels(t *testing.T) {
	tests := []struct {
		name  string
		opts  Options
		level zerolog.Level
	}{
		{"development defaults to debug", Options{Environment: "development"}, zerolog.DebugLevel},
		{"production defaults to info", Options{Environment: "production"}, zerolog.InfoLevel},
		{"explicit level wins", Options{Environment: "development", Level: "WARN"}, zerolog.WarnLevel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.opts.Stdout = &bytes.Buffer{}
			logger, err := Setup(tt.opts)
			require.NoError(t, err)
			assert.Equal(t, tt.level, logger.GetLevel())
		})
	}
}

func TestSetupRejectsBadOptions(t *testing.T) {
	_, err := Setup(Options{Level: "loud", Stdout: &bytes.Buffer{}})
	assert.Error(t, err)

	_, err = Setup(Options{Format: "xml", Stdout: &bytes.Buffer{}})
	assert.Error(t, err)
}

func TestCaptureAlwaysReceivesJSON(t *testing.T) {
	var stdout, capture bytes.Buffer
	logger, err := Setup(Options{Environment: "production", Stdout: &stdout, Capture: &capture})
	require.NoError(t, err)

	poller := Component(logger, "poller")
	poller.Info().Str("item_path", "/media/a.xml").Msg("item scheduled")

	var line map[string]any
	require.NoError(t, json.Unmarshal(capture.Bytes(), &line), capture.String())
	assert.Equal(t, "poller", line["component"])
	assert.Equal(t, "item scheduled", line["message"])
	assert.Contains(t, stdout.String(), "item scheduled")
	assert.False(t, strings.HasPrefix(stdout.String(), "{"), "console format is not JSON")
}

func TestJSONFormat(t *testing.T) {
	var stdout bytes.Buffer
	logger, err := Setup(Options{Environment: "production", Format: FormatJSON, Stdout: &stdout})
	require.NoError(t, err)

	logger.Info().Msg("ready")

	var line map[string]any
	require.NoError(t, json.Unmarshal(stdout.Bytes(), &line))
	assert.Equal(t, "info", line["level"])
}
