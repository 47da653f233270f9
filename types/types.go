package types

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// NodeAddress identifies a radio on the mesh together with the binding
// parameters used to reach it.
type NodeAddress struct {
	Extended  uint64 // 64-bit IEEE hardware address
	Endpoint  uint8
	ProfileID uint16
	ClusterID uint16
}

// String renders the extended address in Digi notation, e.g.
// "[00:13:a2:00:40:a1:b2:c3]!".
func (a NodeAddress) String() string {
	var sb strings.Builder
	sb.WriteByte('[')
	for i := 7; i >= 0; i-- {
		fmt.Fprintf(&sb, "%02x", byte(a.Extended>>(8*uint(i))))
		if i > 0 {
			sb.WriteByte(':')
		}
	}
	sb.WriteString("]!")
	return sb.String()
}

// ParseNodeAddress accepts Digi notation ("[00:13:a2:00:40:a1:b2:c3]!") or
// 16 hex digits with optional ':'/'-' separators and an optional 0x prefix.
func ParseNodeAddress(s string) (NodeAddress, error) {
	raw := strings.TrimSpace(s)
	raw = strings.TrimSuffix(raw, "!")
	raw = strings.TrimPrefix(raw, "[")
	raw = strings.TrimSuffix(raw, "]")
	raw = strings.TrimPrefix(strings.ToLower(raw), "0x")
	raw = strings.NewReplacer(":", "", "-", "").Replace(raw)

	if len(raw) != 16 {
		return NodeAddress{}, fmt.Errorf("invalid node address %q: want 8 bytes", s)
	}
	b, err := hex.DecodeString(raw)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid node address %q: %w", s, err)
	}

	var ext uint64
	for _, v := range b {
		ext = ext<<8 | uint64(v)
	}
	return NodeAddress{Extended: ext}, nil
}

// WithBinding returns a copy of a carrying the given binding parameters.
func (a NodeAddress) WithBinding(endpoint uint8, profile, cluster uint16) NodeAddress {
	a.Endpoint = endpoint
	a.ProfileID = profile
	a.ClusterID = cluster
	return a
}

// Identifier is a logical endpoint: either a name or a TCP port, never both.
type Identifier struct {
	Name string
	Port int
}

func NameID(name string) Identifier { return Identifier{Name: name} }
func PortID(port int) Identifier    { return Identifier{Port: port} }

func (i Identifier) IsPort() bool { return i.Name == "" && i.Port > 0 }
func (i Identifier) IsName() bool { return i.Name != "" && i.Port == 0 }
func (i Identifier) Valid() bool  { return i.IsPort() != i.IsName() }

func (i Identifier) String() string {
	if i.IsPort() {
		return strconv.Itoa(i.Port)
	}
	return i.Name
}

// NodeMapping pairs one radio with one logical endpoint.
type NodeMapping struct {
	Address NodeAddress
	ID      Identifier
}

// FramingMode selects how TCP clients address radios.
type FramingMode int

const (
	// DedicatedPort binds one TCP listener to each node; bytes pass through
	// untouched.
	DedicatedPort FramingMode = iota
	// Multiplexed serves every node on one listener; messages are framed as
	// "name:payload".
	Multiplexed
)

func (m FramingMode) String() string {
	switch m {
	case DedicatedPort:
		return "dedicated"
	case Multiplexed:
		return "multiplexed"
	default:
		return "unknown"
	}
}

// ParseFramingMode accepts the config spellings of a framing mode.
func ParseFramingMode(s string) (FramingMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "dedicated", "dedicated-port", "port", "":
		return DedicatedPort, nil
	case "multiplexed", "mux", "name":
		return Multiplexed, nil
	}
	return DedicatedPort, fmt.Errorf("unknown framing mode %q", s)
}

type ConnState int

const (
	StateAccepting ConnState = iota
	StateBound
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAccepting:
		return "accepting"
	case StateBound:
		return "bound"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// EndpointStatus is a point-in-time view of one listener and its occupant,
// published by the bridge for the monitor and the status endpoint.
type EndpointStatus struct {
	Endpoint     string    `json:"endpoint"`
	Listen       string    `json:"listen"`
	Node         string    `json:"node,omitempty"`
	Connected    bool      `json:"connected"`
	ConnID       string    `json:"conn_id,omitempty"`
	Remote       string    `json:"remote,omitempty"`
	State        string    `json:"state,omitempty"`
	QueuedOut    int       `json:"queued_out"`
	QueuedBytes  int       `json:"queued_bytes"`
	PendingIn    int       `json:"pending_in"`
	LastActivity time.Time `json:"last_activity,omitempty"`
}

// Counters are cumulative bridge totals.
type Counters struct {
	Accepted      uint64 `json:"accepted"`
	Closed        uint64 `json:"closed"`
	RadioTxFrames uint64 `json:"radio_tx_frames"`
	RadioTxBytes  uint64 `json:"radio_tx_bytes"`
	RadioRxFrames uint64 `json:"radio_rx_frames"`
	RadioRxBytes  uint64 `json:"radio_rx_bytes"`
	RadioErrors   uint64 `json:"radio_errors"`
	TCPFlushes    uint64 `json:"tcp_flushes"`
	Dropped       uint64 `json:"dropped"`
}

type Snapshot struct {
	Mode      string           `json:"mode"`
	MTU       int              `json:"mtu"`
	Endpoints []EndpointStatus `json:"endpoints"`
	Counters  Counters         `json:"counters"`
	At        time.Time        `json:"at"`
}

// Direction tells which way a datagram crossed the radio.
type Direction uint8

const (
	DirectionTx Direction = iota + 1
	DirectionRx
)

func (d Direction) String() string {
	switch d {
	case DirectionTx:
		return "tx"
	case DirectionRx:
		return "rx"
	default:
		return "?"
	}
}
