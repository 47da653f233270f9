package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/samaelod/xbridge/lua"
	"github.com/samaelod/xbridge/types"
)

type yamlTable struct {
	Nodes []yamlNode `yaml:"nodes"`
}

type yamlNode struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name,omitempty"`
	Port    int    `yaml:"port,omitempty"`
}

// Load reads a mapping table from a .lua or .yaml/.yml file and builds a
// directory from it.
func Load(path string, opts ...Option) (*Directory, error) {
	mappings, err := ReadFile(path)
	if err != nil {
		return nil, err
	}
	d, err := New(mappings, opts...)
	if err != nil {
		return nil, fmt.Errorf("table %s: %w", path, err)
	}
	return d, nil
}

// ReadFile parses a table file without validating uniqueness.
func ReadFile(path string) ([]types.NodeMapping, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".lua":
		m, err := lua.ReadTable(path)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", path, err)
		}
		return m, nil
	case ".yaml", ".yml":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		m, err := ParseYAML(data)
		if err != nil {
			return nil, fmt.Errorf("table %s: %w", path, err)
		}
		return m, nil
	default:
		return nil, fmt.Errorf("table %s: unsupported extension %q", path, filepath.Ext(path))
	}
}

func ParseYAML(data []byte) ([]types.NodeMapping, error) {
	var t yamlTable
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	out := make([]types.NodeMapping, 0, len(t.Nodes))
	for i, n := range t.Nodes {
		addr, err := types.ParseNodeAddress(n.Address)
		if err != nil {
			return nil, fmt.Errorf("node %d: %w", i+1, err)
		}
		out = append(out, types.NodeMapping{Address: addr, ID: types.Identifier{Name: n.Name, Port: n.Port}})
	}
	return out, nil
}

// MarshalYAML renders mappings in the shape ParseYAML reads.
func MarshalYAML(mappings []types.NodeMapping) ([]byte, error) {
	t := yamlTable{Nodes: make([]yamlNode, 0, len(mappings))}
	for _, m := range mappings {
		t.Nodes = append(t.Nodes, yamlNode{Address: m.Address.String(), Name: m.ID.Name, Port: m.ID.Port})
	}
	return yaml.Marshal(t)
}
