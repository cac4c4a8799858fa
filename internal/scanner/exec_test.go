package scanner

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRecords(t *testing.T) {
	one, err := decodeRecords([]byte(`{"name":"GPU0"}`))
	require.NoError(t, err)
	require.Len(t, one, 1)
	assert.Equal(t, "GPU0", one[0]["name"])

	many, err := decodeRecords([]byte(" [{\"name\":\"a\"},{\"name\":\"b\"}]\r\n"))
	require.NoError(t, err)
	assert.Len(t, many, 2)

	none, err := decodeRecords([]byte("  \n"))
	require.NoError(t, err)
	assert.NotNil(t, none)
	assert.Empty(t, none)

	_, err = decodeRecords([]byte("Get-CimInstance : Access denied"))
	assert.Error(t, err)
}

func TestFirstLine(t *testing.T) {
	assert.Equal(t, "first", firstLine("\n  first  \nsecond"))
	assert.Equal(t, "", firstLine(""))
}

func TestRunCommandMissingBinary(t *testing.T) {
	_, err := runCommand(context.Background(), 0, "hostscan-no-such-binary")
	assert.Error(t, err)
	assert.False(t, commandAvailable("hostscan-no-such-binary"))
}

func TestParseFirewallState(t *testing.T) {
	out := `
Domain Profile Settings:
----------------------------------------------------------------------
State                                 ON

Private Profile Settings:
----------------------------------------------------------------------
State                                 OFF

Public Profile Settings:
----------------------------------------------------------------------
State                                 ON
Ok.
`
	profiles := parseFirewallState(out)
	require.Len(t, profiles, 3)
	assert.Equal(t, map[string]any{"state": "ON", "enabled": true}, profiles["domain"])
	assert.Equal(t, map[string]any{"state": "OFF", "enabled": false}, profiles["private"])
	assert.Equal(t, map[string]any{"state": "ON", "enabled": true}, profiles["public"])
}
