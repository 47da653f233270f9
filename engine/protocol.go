package engine

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/samaelod/xbridge/types"
)

// In-band replies. Clients match on these strings.
const (
	msgInvalidFormat = "ERROR: Invalid format, must follow 'NAME:DATA' format"
	msgUnknownName   = "ERROR: %s is an unknown name"
	msgEmptyPayload  = "ERROR: Cannot send messages of 0 bytes in length"
	msgSendFailed    = "ERROR: Destination %s could not be sent %d bytes for reason: %v"
)

type protoErr int

const (
	protoOK protoErr = iota
	protoFormat
	protoUnknownName
	protoEmpty
)

func (p protoErr) String() string {
	switch p {
	case protoFormat:
		return "format"
	case protoUnknownName:
		return "unknown_name"
	case protoEmpty:
		return "empty_payload"
	default:
		return "ok"
	}
}

// splitMessage splits "name:payload" on the first colon and trims the name.
func splitMessage(msg []byte) (name string, payload []byte, ok bool) {
	i := bytes.IndexByte(msg, ':')
	if i < 0 {
		return "", nil, false
	}
	return strings.TrimSpace(string(msg[:i])), msg[i+1:], true
}

func sendFailedNotice(id types.Identifier, n int, err error) string {
	return fmt.Sprintf(msgSendFailed, id, n, err)
}

// framer cuts a TCP byte stream into multiplexed messages. Without a
// delimiter every read is one message.
type framer struct {
	delim   []byte
	partial []byte
	max     int
}

func (f *framer) feed(data []byte) [][]byte {
	if len(f.delim) == 0 {
		return [][]byte{data}
	}

	f.partial = append(f.partial, data...)
	var msgs [][]byte
	for {
		i := bytes.Index(f.partial, f.delim)
		if i < 0 {
			break
		}
		msgs = append(msgs, bytes.Clone(f.partial[:i]))
		f.partial = f.partial[i+len(f.delim):]
	}
	// Cap the partial buffer at max bytes.
	if f.max > 0 && len(f.partial) >= f.max {
		msgs = append(msgs, f.partial)
		f.partial = nil
	}
	if len(f.partial) == 0 {
		f.partial = nil
	}
	return msgs
}

func (f *framer) pending() int { return len(f.partial) }
