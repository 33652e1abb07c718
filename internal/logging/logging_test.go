package logging

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/dwell/internal/config"
)

func TestParseLevel(t *testing.T) {
	lvl, err := ParseLevel("DEBUG")
	require.NoError(t, err)
	assert.Equal(t, zerolog.DebugLevel, lvl)

	lvl, err = ParseLevel("")
	require.NoError(t, err)
	assert.Equal(t, zerolog.InfoLevel, lvl)

	_, err = ParseLevel("chatty")
	assert.Error(t, err)
}

func TestSetupWritesJSONToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "dwell.log")
	logger, closer, err := Setup(config.LoggingConfig{Level: "info", File: path, JSON: true}, false)
	require.NoError(t, err)

	Component(logger, "test").Info().Str("k", "v").Msg("hello")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"test"`)
	assert.Contains(t, string(data), `"message":"hello"`)
}

func TestSetupVerboseForcesDebug(t *testing.T) {
	_, closer, err := Setup(config.LoggingConfig{Level: "warn"}, true)
	require.NoError(t, err)
	defer closer.Close()
	assert.Equal(t, zerolog.DebugLevel, zerolog.GlobalLevel())
}
