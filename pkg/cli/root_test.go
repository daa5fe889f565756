package cli

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRootCommand_RegistersSubcommands(t *testing.T) {
	root := NewRootCommand()

	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "status", "retry", "override", "evidence"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
}

func TestOverrideCommand_RequiresReason(t *testing.T) {
	root := NewRootCommand()
	root.SetArgs([]string{"override", "0xabc", "true"})
	err := root.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reason")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("WARN"))
	assert.Equal(t, slog.LevelInfo, parseLevel("bogus"))
}
