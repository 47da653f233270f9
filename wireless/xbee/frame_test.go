package xbee

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncode_KnownFrame(t *testing.T) {
	data, err := ATCommand{FrameID: 1, Command: "NI"}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x7E, 0x00, 0x04, 0x08, 0x01, 0x4E, 0x49, 0x5F}, Encode(data, false))
}

func TestEncodeDecode(t *testing.T) {
	payload := []byte{FrameTx64, 0x01, 0x7E, 0x7D, 0x11, 0x13, 'h', 'i'}

	for _, escaped := range []bool{false, true} {
		name := "plain"
		if escaped {
			name = "escaped"
		}
		t.Run(name, func(t *testing.T) {
			raw := Encode(payload, escaped)
			if escaped {
				assert.NotContains(t, string(raw[1:]), "\x7e")
			}

			// Leading garbage is skipped.
			stream := append([]byte{0x00, 0x42}, raw...)
			dec := NewDecoder(bytes.NewReader(stream), escaped)
			got, err := dec.Next()
			require.NoError(t, err)
			assert.Equal(t, payload, got)
		})
	}
}

func TestDecoder_BadChecksumThenRecovers(t *testing.T) {
	bad := Encode([]byte{FrameATCommand, 0x01, 'H', 'V'}, false)
	bad[len(bad)-1] ^= 0xFF
	good := Encode([]byte{FrameATCommand, 0x02, 'E', 'E'}, false)

	dec := NewDecoder(bytes.NewReader(append(bad, good...)), false)
	_, err := dec.Next()
	assert.ErrorIs(t, err, ErrChecksum)

	got, err := dec.Next()
	require.NoError(t, err)
	assert.Equal(t, byte(0x02), got[1])
}

func TestTxRequest_Layout(t *testing.T) {
	explicit, err := TxRequest{
		FrameID: 7, Dest64: 0x0013a20040a1b2c3,
		SrcEP: 0xE8, DstEP: 0xE8, ClusterID: 0x11, ProfileID: 0xC105,
		Explicit: true, Data: []byte("hey"),
	}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{
		0x11, 0x07,
		0x00, 0x13, 0xa2, 0x00, 0x40, 0xa1, 0xb2, 0xc3,
		0xFF, 0xFE,
		0xE8, 0xE8,
		0x00, 0x11,
		0xC1, 0x05,
		0x00, 0x00,
		'h', 'e', 'y',
	}, explicit)

	s1, err := TxRequest{FrameID: 7, Dest64: 1, Data: []byte("x")}.MarshalBinary()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x07, 0, 0, 0, 0, 0, 0, 0, 1, 0x00, 'x'}, s1)
}

func TestParseRx(t *testing.T) {
	rx := []byte{FrameRxExplicit,
		0x00, 0x13, 0xa2, 0x00, 0x40, 0xa1, 0xb2, 0xc3,
		0x12, 0x34,
		0xE8, 0xE8,
		0x00, 0x11,
		0xC1, 0x05,
		0x01,
		'o', 'k'}
	pkt, err := parseRx(rx)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x0013a20040a1b2c3), pkt.Source64)
	assert.Equal(t, uint16(0xC105), pkt.ProfileID)
	assert.Equal(t, "ok", string(pkt.Data))

	_, err = parseRx(rx[:10])
	assert.ErrorIs(t, err, ErrShortData)

	s1 := []byte{FrameRx64, 0, 0, 0, 0, 0, 0, 0, 9, 0x28, 0x00, 'y'}
	pkt, err = parseRx(s1)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), pkt.Source64)
	assert.Equal(t, byte(0x28), pkt.RSSI)
	assert.Equal(t, "y", string(pkt.Data))
}
