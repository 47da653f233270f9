package xbee

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	startDelimiter = 0x7E
	escapeByte     = 0x7D
	xon            = 0x11
	xoff           = 0x13
	escapeMask     = 0x20

	maxFrameLen      = 0x200
	broadcastNetAddr = 0xFFFE
)

// API frame identifiers.
const (
	FrameTx64       byte = 0x00
	FrameATCommand  byte = 0x08
	FrameTxExplicit byte = 0x11
	FrameRx64       byte = 0x80
	FrameATResponse byte = 0x88
	FrameTxStatus64 byte = 0x89
	FrameTxStatus   byte = 0x8B
	FrameRxExplicit byte = 0x91
)

var (
	ErrChecksum  = errors.New("xbee: bad checksum")
	ErrShortData = errors.New("xbee: frame too short")
)

func needsEscape(b byte) bool {
	return b == startDelimiter || b == escapeByte || b == xon || b == xoff
}

func checksum(data []byte) byte {
	var sum byte
	for _, b := range data {
		sum += b
	}
	return 0xFF - sum
}

// Encode wraps frame data (API id first) in delimiter, length and checksum.
// With escaped set everything after the delimiter is API-2 escaped.
func Encode(data []byte, escaped bool) []byte {
	raw := make([]byte, 0, len(data)+4)
	raw = binary.BigEndian.AppendUint16(raw, uint16(len(data)))
	raw = append(raw, data...)
	raw = append(raw, checksum(data))

	out := make([]byte, 0, len(raw)*2+1)
	out = append(out, startDelimiter)
	for _, b := range raw {
		if escaped && needsEscape(b) {
			out = append(out, escapeByte, b^escapeMask)
			continue
		}
		out = append(out, b)
	}
	return out
}

// Decoder pulls API frames off a byte stream.
type Decoder struct {
	r       *bufio.Reader
	escaped bool
}

func NewDecoder(r io.Reader, escaped bool) *Decoder {
	return &Decoder{r: bufio.NewReader(r), escaped: escaped}
}

func (d *Decoder) readByte() (byte, error) {
	b, err := d.r.ReadByte()
	if err != nil || !d.escaped || b != escapeByte {
		return b, err
	}
	b, err = d.r.ReadByte()
	return b ^ escapeMask, err
}

// Next returns the frame data of the next valid frame. Garbage before a
// delimiter is skipped. A checksum mismatch returns ErrChecksum and the
// decoder stays usable.
func (d *Decoder) Next() ([]byte, error) {
	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return nil, err
		}
		if b == startDelimiter {
			break
		}
	}

	var hdr [2]byte
	for i := range hdr {
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		hdr[i] = b
	}
	n := int(binary.BigEndian.Uint16(hdr[:]))
	if n == 0 || n > maxFrameLen {
		return nil, fmt.Errorf("xbee: frame length %d: %w", n, ErrShortData)
	}

	data := make([]byte, n)
	for i := range data {
		b, err := d.readByte()
		if err != nil {
			return nil, err
		}
		data[i] = b
	}
	cs, err := d.readByte()
	if err != nil {
		return nil, err
	}
	if checksum(data) != cs {
		return nil, ErrChecksum
	}
	return data, nil
}

// ATCommand is a local AT command (0x08).
type ATCommand struct {
	FrameID byte
	Command string
	Param   []byte
}

func (c ATCommand) MarshalBinary() ([]byte, error) {
	if len(c.Command) != 2 {
		return nil, fmt.Errorf("xbee: AT command %q must be two characters", c.Command)
	}
	out := []byte{FrameATCommand, c.FrameID, c.Command[0], c.Command[1]}
	return append(out, c.Param...), nil
}

// ATResponse is a local AT command response (0x88).
type ATResponse struct {
	FrameID byte
	Command string
	Status  byte
	Data    []byte
}

func parseATResponse(d []byte) (ATResponse, error) {
	if len(d) < 5 {
		return ATResponse{}, ErrShortData
	}
	return ATResponse{FrameID: d[1], Command: string(d[2:4]), Status: d[4], Data: d[5:]}, nil
}

// TxRequest covers both the Series 2 explicit addressing frame (0x11) and
// the Series 1 64-bit TX frame (0x00).
type TxRequest struct {
	FrameID   byte
	Dest64    uint64
	SrcEP     uint8
	DstEP     uint8
	ClusterID uint16
	ProfileID uint16
	Explicit  bool
	Data      []byte
}

func (t TxRequest) MarshalBinary() ([]byte, error) {
	var out []byte
	if t.Explicit {
		out = append(out, FrameTxExplicit, t.FrameID)
		out = binary.BigEndian.AppendUint64(out, t.Dest64)
		out = binary.BigEndian.AppendUint16(out, broadcastNetAddr)
		out = append(out, t.SrcEP, t.DstEP)
		out = binary.BigEndian.AppendUint16(out, t.ClusterID)
		out = binary.BigEndian.AppendUint16(out, t.ProfileID)
		out = append(out, 0, 0) // radius, options
	} else {
		out = append(out, FrameTx64, t.FrameID)
		out = binary.BigEndian.AppendUint64(out, t.Dest64)
		out = append(out, 0) // options
	}
	return append(out, t.Data...), nil
}

// RxPacket is a received datagram from either RX frame type.
type RxPacket struct {
	Source64  uint64
	SrcEP     uint8
	DstEP     uint8
	ClusterID uint16
	ProfileID uint16
	RSSI      byte
	Data      []byte
}

func parseRx(d []byte) (RxPacket, error) {
	switch d[0] {
	case FrameRxExplicit:
		// id, addr64(8), addr16(2), src ep, dst ep, cluster(2), profile(2), options
		if len(d) < 18 {
			return RxPacket{}, ErrShortData
		}
		return RxPacket{
			Source64:  binary.BigEndian.Uint64(d[1:9]),
			SrcEP:     d[11],
			DstEP:     d[12],
			ClusterID: binary.BigEndian.Uint16(d[13:15]),
			ProfileID: binary.BigEndian.Uint16(d[15:17]),
			Data:      d[18:],
		}, nil
	case FrameRx64:
		// id, addr64(8), rssi, options
		if len(d) < 11 {
			return RxPacket{}, ErrShortData
		}
		return RxPacket{
			Source64: binary.BigEndian.Uint64(d[1:9]),
			RSSI:     d[9],
			Data:     d[11:],
		}, nil
	}
	return RxPacket{}, fmt.Errorf("xbee: frame 0x%02x is not a receive frame", d[0])
}

// TxStatus is the outcome of one transmission.
type TxStatus struct {
	FrameID  byte
	Delivery byte
}

func parseTxStatus(d []byte) (TxStatus, error) {
	switch d[0] {
	case FrameTxStatus:
		// id, fid, addr16(2), retries, delivery, discovery
		if len(d) < 7 {
			return TxStatus{}, ErrShortData
		}
		return TxStatus{FrameID: d[1], Delivery: d[5]}, nil
	case FrameTxStatus64:
		if len(d) < 3 {
			return TxStatus{}, ErrShortData
		}
		return TxStatus{FrameID: d[1], Delivery: d[2]}, nil
	}
	return TxStatus{}, fmt.Errorf("xbee: frame 0x%02x is not a status frame", d[0])
}

var deliveryReasons = map[byte]string{
	0x01: "MAC ACK failure",
	0x02: "CCA failure",
	0x03: "transmission purged",
	0x15: "invalid destination endpoint",
	0x21: "network ACK failure",
	0x22: "not joined to network",
	0x23: "self-addressed",
	0x24: "address not found",
	0x25: "route not found",
	0x74: "payload too large",
}

func deliveryReason(code byte) string {
	if s, ok := deliveryReasons[code]; ok {
		return s
	}
	return fmt.Sprintf("delivery status 0x%02x", code)
}
