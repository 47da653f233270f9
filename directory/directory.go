// Package directory holds the static, bidirectional mapping between logical
// endpoints (names or TCP ports) and radio addresses.
package directory

import (
	"errors"
	"fmt"
	"sort"

	"github.com/samaelod/xbridge/types"
)

var (
	ErrNotFound        = errors.New("not found")
	ErrDuplicate       = errors.New("duplicate mapping")
	ErrEmptyIdentifier = errors.New("entry needs exactly one of name or port")
)

// DuplicateError names the field and value that appeared twice.
type DuplicateError struct {
	Field string // "address", "name" or "port"
	Value string
	Index int // position of the second occurrence
}

func (e *DuplicateError) Error() string {
	return fmt.Sprintf("entry %d: %s %s already mapped", e.Index+1, e.Field, e.Value)
}

func (e *DuplicateError) Unwrap() error { return ErrDuplicate }

// Kind tells which identifier flavour a table carries.
type Kind int

const (
	KindEmpty Kind = iota
	KindName
	KindPort
	KindMixed
)

func (k Kind) String() string {
	switch k {
	case KindName:
		return "name"
	case KindPort:
		return "port"
	case KindMixed:
		return "mixed"
	default:
		return "empty"
	}
}

type binding struct {
	endpoint uint8
	profile  uint16
	cluster  uint16
	set      bool
}

type Option func(*binding)

// WithBinding stamps the radio profile's endpoint, profile id and cluster id
// onto every address the directory returns.
func WithBinding(endpoint uint8, profile, cluster uint16) Option {
	return func(b *binding) {
		b.endpoint, b.profile, b.cluster, b.set = endpoint, profile, cluster, true
	}
}

// Directory is immutable after New and safe for concurrent readers.
type Directory struct {
	byName    map[string]types.NodeAddress
	byPort    map[int]types.NodeAddress
	byAddress map[uint64]types.Identifier
	entries   []types.NodeMapping
	binding   binding
}

// New builds a directory, rejecting ambiguous tables up front.
func New(mappings []types.NodeMapping, opts ...Option) (*Directory, error) {
	d := &Directory{
		byName:    make(map[string]types.NodeAddress, len(mappings)),
		byPort:    make(map[int]types.NodeAddress, len(mappings)),
		byAddress: make(map[uint64]types.Identifier, len(mappings)),
		entries:   make([]types.NodeMapping, 0, len(mappings)),
	}
	for _, opt := range opts {
		opt(&d.binding)
	}

	for i, m := range mappings {
		if !m.ID.Valid() {
			return nil, fmt.Errorf("entry %d (%s): %w", i+1, m.Address, ErrEmptyIdentifier)
		}
		if _, ok := d.byAddress[m.Address.Extended]; ok {
			return nil, &DuplicateError{Field: "address", Value: m.Address.String(), Index: i}
		}
		if m.ID.IsName() {
			if _, ok := d.byName[m.ID.Name]; ok {
				return nil, &DuplicateError{Field: "name", Value: m.ID.Name, Index: i}
			}
			d.byName[m.ID.Name] = m.Address
		} else {
			if _, ok := d.byPort[m.ID.Port]; ok {
				return nil, &DuplicateError{Field: "port", Value: m.ID.String(), Index: i}
			}
			d.byPort[m.ID.Port] = m.Address
		}
		d.byAddress[m.Address.Extended] = m.ID
		d.entries = append(d.entries, types.NodeMapping{Address: d.bind(m.Address), ID: m.ID})
	}

	sort.Slice(d.entries, func(i, j int) bool {
		a, b := d.entries[i].ID, d.entries[j].ID
		if a.IsPort() != b.IsPort() {
			return a.IsPort()
		}
		if a.IsPort() {
			return a.Port < b.Port
		}
		return a.Name < b.Name
	})

	return d, nil
}

func (d *Directory) bind(a types.NodeAddress) types.NodeAddress {
	if !d.binding.set {
		return a
	}
	return a.WithBinding(d.binding.endpoint, d.binding.profile, d.binding.cluster)
}

func (d *Directory) ResolveName(name string) (types.NodeAddress, error) {
	a, ok := d.byName[name]
	if !ok {
		return types.NodeAddress{}, fmt.Errorf("name %q: %w", name, ErrNotFound)
	}
	return d.bind(a), nil
}

func (d *Directory) ResolvePort(port int) (types.NodeAddress, error) {
	a, ok := d.byPort[port]
	if !ok {
		return types.NodeAddress{}, fmt.Errorf("port %d: %w", port, ErrNotFound)
	}
	return d.bind(a), nil
}

func (d *Directory) Resolve(id types.Identifier) (types.NodeAddress, error) {
	if id.IsPort() {
		return d.ResolvePort(id.Port)
	}
	return d.ResolveName(id.Name)
}

// ResolveAddress looks up by extended address only; binding parameters on
// the argument are ignored.
func (d *Directory) ResolveAddress(addr types.NodeAddress) (types.Identifier, error) {
	id, ok := d.byAddress[addr.Extended]
	if !ok {
		return types.Identifier{}, fmt.Errorf("address %s: %w", addr, ErrNotFound)
	}
	return id, nil
}

// Entries returns a copy of the table, ports first in ascending order, then
// names alphabetically.
func (d *Directory) Entries() []types.NodeMapping {
	out := make([]types.NodeMapping, len(d.entries))
	copy(out, d.entries)
	return out
}

func (d *Directory) Len() int { return len(d.entries) }

func (d *Directory) Kind() Kind {
	switch {
	case len(d.byName) == 0 && len(d.byPort) == 0:
		return KindEmpty
	case len(d.byPort) == 0:
		return KindName
	case len(d.byName) == 0:
		return KindPort
	default:
		return KindMixed
	}
}
