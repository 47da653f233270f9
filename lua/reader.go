package lua

import (
	"fmt"

	"github.com/yuin/gluamapper"
	lua "github.com/yuin/gopher-lua"

	"github.com/samaelod/xbridge/types"
)

// tableFile is the shape a mapping script must return:
//
//	return {
//	  nodes = {
//	    { address = "[00:13:a2:00:40:a1:b2:c3]!", name = "node1" },
//	    { address = "0013a20040a1b2c4", port = 4001 },
//	  },
//	}
type tableFile struct {
	Nodes []tableEntry
}

type tableEntry struct {
	Address string
	Name    string
	Port    int
}

// ReadTable executes a Lua mapping script and returns its node mappings in
// file order.
func ReadTable(path string) ([]types.NodeMapping, error) {
	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()

	// Base and string are enough for hand-written tables.
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.StringLibName, lua.OpenString},
		{lua.TabLibName, lua.OpenTable},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	if err := L.DoFile(path); err != nil {
		return nil, err
	}

	lv := L.Get(-1)
	table, ok := lv.(*lua.LTable)
	if !ok {
		return nil, fmt.Errorf("lua file did not return a table")
	}

	var tf tableFile
	if err := gluamapper.Map(table, &tf); err != nil {
		return nil, err
	}

	mappings, err := validateTable(tf.Nodes)
	if err != nil {
		return nil, fmt.Errorf("invalid table: %w", err)
	}
	return mappings, nil
}

// validateTable converts raw entries into mappings. Duplicate detection is
// left to the directory; this only checks each entry on its own.
func validateTable(entries []tableEntry) ([]types.NodeMapping, error) {
	mappings := make([]types.NodeMapping, 0, len(entries))
	for i, e := range entries {
		addr, err := types.ParseNodeAddress(e.Address)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i+1, err)
		}
		id := types.Identifier{Name: e.Name, Port: e.Port}
		if e.Port < 0 || e.Port > 65535 {
			return nil, fmt.Errorf("node %d (%s): port %d out of range", i+1, addr, e.Port)
		}
		if !id.Valid() {
			return nil, fmt.Errorf("node %d (%s): exactly one of name or port is required", i+1, addr)
		}
		mappings = append(mappings, types.NodeMapping{Address: addr, ID: id})
	}
	return mappings, nil
}
