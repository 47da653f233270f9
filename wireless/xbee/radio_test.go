package xbee

import (
	"context"
	"encoding/binary"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

// module plays the local XBee on the far end of a pipe.
type module struct {
	conn    net.Conn
	hv      []byte // nil: ignore AT commands
	ee      byte
	escaped bool
	txs     chan []byte
}

func newModule(t *testing.T, hv uint16, escaped bool) (*module, net.Conn) {
	radioEnd, moduleEnd := net.Pipe()
	m := &module{conn: moduleEnd, escaped: escaped, txs: make(chan []byte, 16)}
	if hv != 0 {
		m.hv = binary.BigEndian.AppendUint16(nil, hv)
	}
	t.Cleanup(func() { moduleEnd.Close() })
	return m, radioEnd
}

func (m *module) serve() {
	dec := NewDecoder(m.conn, m.escaped)
	for {
		data, err := dec.Next()
		if err != nil {
			return
		}
		switch data[0] {
		case FrameATCommand:
			if m.hv == nil {
				continue
			}
			reply := []byte{FrameATResponse, data[1], data[2], data[3], 0}
			switch string(data[2:4]) {
			case "HV":
				reply = append(reply, m.hv...)
			case "EE":
				reply = append(reply, m.ee)
			}
			m.send(reply)
		case FrameTxExplicit, FrameTx64:
			m.txs <- data
		}
	}
}

func (m *module) send(data []byte) {
	_, _ = m.conn.Write(Encode(data, m.escaped))
}

func (m *module) status(fid, delivery byte) {
	m.send([]byte{FrameTxStatus, fid, 0xFF, 0xFE, 0, delivery, 0})
}

func nextTx(t *testing.T, m *module) []byte {
	t.Helper()
	select {
	case tx := <-m.txs:
		return tx
	case <-time.After(2 * time.Second):
		t.Fatal("no frame transmitted")
		return nil
	}
}

var dest = types.NodeAddress{Extended: 0x0013a20040a1b2c3}

func TestRadio_Series2SendStatusReceive(t *testing.T) {
	m, port := newModule(t, 0x1E43, true)
	go m.serve()

	r := New(port, Options{Escaped: true, ProbeTimeout: time.Second, StatusTimeout: time.Minute})
	defer r.Close()

	p, err := r.Detect(context.Background(), true)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Series)
	assert.Equal(t, 72, r.MTU())

	payload := make([]byte, 100)
	for i := range payload {
		payload[i] = byte(i)
	}
	n, err := r.Send(dest, payload)
	require.NoError(t, err)
	assert.Equal(t, 72, n)

	tx := nextTx(t, m)
	assert.Equal(t, FrameTxExplicit, tx[0])
	assert.Equal(t, dest.Extended, binary.BigEndian.Uint64(tx[2:10]))
	assert.Equal(t, byte(0xE8), tx[13])
	assert.Equal(t, payload[:72], tx[20:])

	// One frame in flight.
	_, err = r.Send(dest, payload[72:])
	assert.ErrorIs(t, err, wireless.ErrWouldBlock)

	m.status(tx[1], 0)
	require.Eventually(t, func() bool {
		n, err := r.Send(dest, payload[72:])
		return err == nil && n == 28
	}, 2*time.Second, 5*time.Millisecond)

	tx = nextTx(t, m)
	m.status(tx[1], 0x21)
	var de *wireless.DeliveryError
	require.Eventually(t, func() bool {
		_, err := r.Recv()
		return asDelivery(err, &de)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "network ACK failure", de.Reason)
	assert.Equal(t, dest.Extended, de.Addr.Extended)

	m.send([]byte{FrameRxExplicit,
		0x00, 0x13, 0xa2, 0x00, 0x40, 0xa1, 0xb2, 0xc4,
		0xFF, 0xFE, 0xE8, 0xE8, 0x00, 0x11, 0xC1, 0x05, 0x01,
		'p', 'o', 'n', 'g'})
	var dg wireless.Datagram
	require.Eventually(t, func() bool {
		var err error
		dg, err = r.Recv()
		return err == nil
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, uint64(0x0013a20040a1b2c4), dg.Source.Extended)
	assert.Equal(t, "pong", string(dg.Payload))
}

func asDelivery(err error, target **wireless.DeliveryError) bool {
	return errors.As(err, target)
}

func TestRadio_Series1Fallback(t *testing.T) {
	m, port := newModule(t, 0, false)
	go m.serve()

	r := New(port, Options{ProbeTimeout: 50 * time.Millisecond, StatusTimeout: 30 * time.Millisecond})
	defer r.Close()

	_, err := r.Detect(context.Background(), true)
	require.Error(t, err)
	assert.True(t, xerrors.IsInvalid(err))

	p, err := r.Detect(context.Background(), false)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Series)
	assert.Equal(t, 100, p.MTU)

	n, err := r.Send(dest, []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)
	tx := nextTx(t, m)
	assert.Equal(t, FrameTx64, tx[0])
	assert.Equal(t, "hello", string(tx[11:]))

	// The module never reports status; the send is given up on.
	require.Eventually(t, func() bool {
		_, err := r.Recv()
		var de *wireless.DeliveryError
		return asDelivery(err, &de)
	}, 2*time.Second, 5*time.Millisecond)

	_, err = r.Recv()
	assert.ErrorIs(t, err, wireless.ErrWouldBlock)
}

func TestRadio_EncryptedProfile(t *testing.T) {
	m, port := newModule(t, 0x1E43, false)
	m.ee = 1
	go m.serve()

	r := New(port, Options{ProbeTimeout: time.Second})
	defer r.Close()

	p, err := r.Detect(context.Background(), false)
	require.NoError(t, err)
	assert.True(t, p.Encrypted)
	assert.Equal(t, 54, p.MTU)
}

func TestRadio_Closed(t *testing.T) {
	_, port := newModule(t, 0, false)
	r := New(port, Options{})
	require.NoError(t, r.Close())

	_, err := r.Send(dest, []byte("x"))
	assert.ErrorIs(t, err, wireless.ErrClosed)
	_, err = r.Recv()
	assert.ErrorIs(t, err, wireless.ErrClosed)
}

func TestRadio_DeliveryReportPrecedesQueuedDatagram(t *testing.T) {
	m, port := newModule(t, 0, false)
	go m.serve()

	r := New(port, Options{ProbeTimeout: 50 * time.Millisecond, StatusTimeout: time.Minute})
	defer r.Close()
	_, err := r.Detect(context.Background(), false)
	require.NoError(t, err)

	_, err = r.Send(dest, []byte("hello"))
	require.NoError(t, err)
	tx := nextTx(t, m)

	m.send([]byte{FrameRx64,
		0x00, 0x13, 0xa2, 0x00, 0x40, 0xa1, 0xb2, 0xc4,
		0x28, 0x00, 'h', 'i'})
	m.status(tx[1], 0x24)
	require.Eventually(t, func() bool {
		r.mu.Lock()
		defer r.mu.Unlock()
		return len(r.inbox) == 1 && len(r.reports) == 1
	}, 2*time.Second, 5*time.Millisecond)

	_, err = r.Recv()
	var de *wireless.DeliveryError
	require.True(t, asDelivery(err, &de))
	assert.Equal(t, 5, de.Bytes)

	dg, err := r.Recv()
	require.NoError(t, err)
	assert.Equal(t, "hi", string(dg.Payload))
}
