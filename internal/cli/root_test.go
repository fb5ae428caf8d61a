package cli

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand(Deps{})
	require.NotNil(t, cmd)
	assert.Equal(t, "sortd", cmd.Use)
	assert.Contains(t, cmd.Long, "Consolidate")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand(Deps{})
	commands := []string{"consolidate", "distribute", "dedupe", "undo", "status"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand(Deps{})

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestInvalidFormatRejected(t *testing.T) {
	cmd := NewRootCommand(Deps{})
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs([]string{"status", "--format", "xml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestConsolidateCommandFlags(t *testing.T) {
	cmd := NewRootCommand(Deps{})
	sub, _, err := cmd.Find([]string{"consolidate"})
	require.NoError(t, err)

	require.NotNil(t, sub.Flags().Lookup("into"))
	require.NotNil(t, sub.Flags().Lookup("criterion"))
	require.NotNil(t, sub.Flags().Lookup("move"))
	require.NotNil(t, sub.Flags().Lookup("dry-run"))
	require.NotNil(t, sub.Flags().Lookup("limit"))
	require.NotNil(t, sub.Flags().Lookup("resume"))
}

func TestDistributeParseDestinations(t *testing.T) {
	dests, err := parseDestinations([]string{"jazz=late night", "rock=guitar"})
	require.NoError(t, err)
	require.Len(t, dests, 2)
	assert.Equal(t, "jazz", dests[0].ContainerID)
	assert.Equal(t, "late night", dests[0].Criterion)

	_, err = parseDestinations([]string{"missing-criterion"})
	assert.Error(t, err)
	_, err = parseDestinations([]string{"=jazz"})
	assert.Error(t, err)
}

func TestDedupeCommandHasNoMoveFlag(t *testing.T) {
	cmd := NewRootCommand(Deps{})
	sub, _, err := cmd.Find([]string{"dedupe"})
	require.NoError(t, err)
	assert.Nil(t, sub.Flags().Lookup("move"))
	require.NotNil(t, sub.Flags().Lookup("dry-run"))
}
