package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionFlag(t *testing.T) {
	output := captureOutput(t, func() {
		assert.NoError(t, RunWithArgs("0.1.0-test", []string{"--version"}))
	})
	assert.Contains(t, output, "dwell 0.1.0-test")
}

func TestVersionOutputFormat(t *testing.T) {
	output := captureOutput(t, func() {
		_ = RunWithArgs("1.2.3", []string{"--version"})
	})
	assert.Equal(t, "dwell 1.2.3", strings.TrimSpace(output))
}

func TestVersionAfterDoubleDashIsAnArgument(t *testing.T) {
	env := newTestEnv(t)
	out, err := env.run(t, "today", "--", "--version")
	require.NoError(t, err)
	assert.NotContains(t, out, "dwell test")
}

func TestSubcommandsRegistered(t *testing.T) {
	parser, _, cmds := buildParser("test")
	for _, name := range []string{
		"serve", "stats", "today", "domains", "pages", "page",
		"export", "clear", "pause", "resume", "prune", "status",
	} {
		assert.NotNil(t, parser.Find(name), name)
	}
	assert.NotNil(t, cmds.Serve)
	assert.Nil(t, parser.Find("search"))
}

func TestUnknownSubcommand(t *testing.T) {
	err := RunWithArgs("test", []string{"frobnicate"})
	assert.Error(t, err)
}

func TestGlobalFlagsShared(t *testing.T) {
	_, globals, cmds := buildParser("test")
	globals.JSON = true
	assert.True(t, cmds.Stats.globals.JSON)
	assert.True(t, cmds.Clear.globals.JSON)
}
