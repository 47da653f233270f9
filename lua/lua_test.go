package lua

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/xbridge/types"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "nodes.lua")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestReadTable(t *testing.T) {
	path := writeScript(t, `
local base = "0013a20040a1b2"
return {
  nodes = {
    { address = "[00:13:a2:00:40:a1:b2:c3]!", name = "node1" },
    { address = base .. "c4", port = 4001 },
  },
}
`)
	got, err := ReadTable(path)
	require.NoError(t, err)
	require.Len(t, got, 2)

	assert.Equal(t, uint64(0x0013a20040a1b2c3), got[0].Address.Extended)
	assert.Equal(t, types.NameID("node1"), got[0].ID)
	assert.Equal(t, uint64(0x0013a20040a1b2c4), got[1].Address.Extended)
	assert.Equal(t, types.PortID(4001), got[1].ID)
}

func TestReadTable_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not a table", `return 42`},
		{"syntax error", `return {`},
		{"bad address", `return { nodes = { { address = "zz", name = "a" } } }`},
		{"name and port", `return { nodes = { { address = "0013a20040a1b2c3", name = "a", port = 1 } } }`},
		{"neither", `return { nodes = { { address = "0013a20040a1b2c3" } } }`},
		{"port range", `return { nodes = { { address = "0013a20040a1b2c3", port = 70000 } } }`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ReadTable(writeScript(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestWriteTable_ReadBack(t *testing.T) {
	table := []types.NodeMapping{
		{Address: types.NodeAddress{Extended: 0x0013a20040a1b2c3}, ID: types.NameID("node1")},
		{Address: types.NodeAddress{Extended: 0x0013a20040a1b2c4}, ID: types.PortID(4001)},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteTable(&buf, table))
	assert.Contains(t, buf.String(), `address = "[00:13:a2:00:40:a1:b2:c3]!", name = "node1"`)

	got, err := ReadTable(writeScript(t, buf.String()))
	require.NoError(t, err)
	assert.Equal(t, table, got)
}
