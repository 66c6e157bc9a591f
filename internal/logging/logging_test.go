package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func restoreLogger(t *testing.T) {
	t.Helper()
	prevLogger, prevLevel := log.Logger, zerolog.GlobalLevel()
	t.Cleanup(func() {
		log.Logger = prevLogger
		zerolog.SetGlobalLevel(prevLevel)
	})
}

func TestU_ParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want zerolog.Level
	}{
		{"", zerolog.WarnLevel},
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{" warning ", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"disabled", zerolog.Disabled},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := ParseLevel("loud")
	assert.Error(t, err)
}

func TestU_Setup_FiltersByLevel(t *testing.T) {
	restoreLogger(t)
	var buf bytes.Buffer

	require.NoError(t, Setup(&buf, "warn"))
	log.Debug().Msg("hidden detail")
	log.Warn().Str("backend", "pkcs11").Msg("visible warning")

	out := buf.String()
	assert.NotContains(t, out, "hidden detail")
	assert.Contains(t, out, "visible warning")
	assert.Contains(t, out, "backend=pkcs11")
	// a buffer is not a terminal
	assert.NotContains(t, out, "\x1b[")
}

func TestU_Setup_Debug(t *testing.T) {
	restoreLogger(t)
	var buf bytes.Buffer

	require.NoError(t, Setup(&buf, "debug"))
	log.Debug().Msg("dispatching operation")
	assert.Contains(t, buf.String(), "dispatching operation")
}

func TestU_Setup_InvalidLevel(t *testing.T) {
	restoreLogger(t)
	assert.Error(t, Setup(&bytes.Buffer{}, "chatty"))
}
