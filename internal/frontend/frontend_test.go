package frontend

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rtsupervisor/internal/eventqueue"
)

func TestParseCommandActivate(t *testing.T) {
	ev, shutdown, err := parseCommand("ACTIVATE t1")
	require.NoError(t, err)
	assert.False(t, shutdown)
	assert.Equal(t, eventqueue.Activate, ev.Kind)
	assert.Equal(t, "t1", ev.TaskName)
}

func TestParseCommandAliasesAndCase(t *testing.T) {
	ev, _, err := parseCommand("a t1")
	require.NoError(t, err)
	assert.Equal(t, eventqueue.Activate, ev.Kind)

	ev, _, err = parseCommand("list")
	require.NoError(t, err)
	assert.Equal(t, eventqueue.List, ev.Kind)

	ev, _, err = parseCommand("i")
	require.NoError(t, err)
	assert.Equal(t, eventqueue.Info, ev.Kind)
}

func TestParseCommandDeactivate(t *testing.T) {
	ev, _, err := parseCommand("DEACTIVATE 7")
	require.NoError(t, err)
	assert.Equal(t, eventqueue.Deactivate, ev.Kind)
	assert.Equal(t, uint64(7), ev.InstanceID)
}

func TestParseCommandDeactivateRejectsNonInteger(t *testing.T) {
	_, _, err := parseCommand("DEACTIVATE nope")
	assert.Error(t, err)
}

func TestParseCommandShutdown(t *testing.T) {
	ev, shutdown, err := parseCommand("SHUTDOWN")
	require.NoError(t, err)
	assert.True(t, shutdown)
	assert.Equal(t, eventqueue.Shutdown, ev.Kind)
}

func TestParseCommandRejectsUnknown(t *testing.T) {
	_, _, err := parseCommand("FROB")
	assert.Error(t, err)
}

func TestParseCommandRejectsMissingArgument(t *testing.T) {
	_, _, err := parseCommand("ACTIVATE")
	assert.Error(t, err)
}

func TestParseCommandRejectsExtraArguments(t *testing.T) {
	_, _, err := parseCommand("LIST extra")
	assert.Error(t, err)
}
