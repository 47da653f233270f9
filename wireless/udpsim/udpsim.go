// Package udpsim stands in for a radio with plain UDP: every datagram on the
// wire is the sender's 8-byte extended address followed by the payload.
package udpsim

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

const (
	headerLen    = 8
	defaultMTU   = 100
	defaultQueue = 64
)

var ErrUnknownPeer = errors.New("udpsim: no peer for address")

type Options struct {
	Listen string
	Self   uint64
	// Peers maps extended addresses to host:port.
	Peers  map[uint64]string
	MTU    int
	Queue  int
	Logger *zap.Logger
}

type Transport struct {
	conn *net.UDPConn
	self uint64
	mtu  int
	log  *zap.Logger

	mu       sync.RWMutex
	peers    map[uint64]*net.UDPAddr
	closed   bool
	readErr  error
	reported bool

	rx    chan wireless.Datagram
	ready chan struct{}
}

var _ wireless.Transport = (*Transport)(nil)

func Listen(opts Options) (*Transport, error) {
	if opts.MTU <= 0 {
		opts.MTU = defaultMTU
	}
	if opts.Queue <= 0 {
		opts.Queue = defaultQueue
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	laddr, err := net.ResolveUDPAddr("udp", opts.Listen)
	if err != nil {
		return nil, xerrors.WrapInvalid(err, "udpsim", "resolve")
	}
	c, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, xerrors.WrapFatal(err, "udpsim", "listen")
	}

	t := &Transport{
		conn:  c,
		self:  opts.Self,
		mtu:   opts.MTU,
		log:   opts.Logger.Named("udpsim"),
		peers: make(map[uint64]*net.UDPAddr, len(opts.Peers)),
		rx:    make(chan wireless.Datagram, opts.Queue),
		ready: make(chan struct{}, 1),
	}
	for ext, addr := range opts.Peers {
		if err := t.AddPeer(ext, addr); err != nil {
			c.Close()
			return nil, err
		}
	}
	go t.readLoop()
	return t, nil
}

func (t *Transport) AddPeer(ext uint64, addr string) error {
	ua, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return xerrors.WrapInvalid(fmt.Errorf("peer %s: %w", types.NodeAddress{Extended: ext}, err), "udpsim", "peer")
	}
	t.mu.Lock()
	t.peers[ext] = ua
	t.mu.Unlock()
	return nil
}

func (t *Transport) LocalAddr() net.Addr { return t.conn.LocalAddr() }

func (t *Transport) MTU() int { return t.mtu }

func (t *Transport) Ready() <-chan struct{} { return t.ready }

func (t *Transport) Send(addr types.NodeAddress, p []byte) (int, error) {
	t.mu.RLock()
	closed := t.closed
	raddr, ok := t.peers[addr.Extended]
	t.mu.RUnlock()

	if closed {
		return 0, wireless.ErrClosed
	}
	if !ok {
		return 0, fmt.Errorf("%w %s", ErrUnknownPeer, addr)
	}

	n := min(len(p), t.mtu)
	buf := make([]byte, headerLen, headerLen+n)
	binary.BigEndian.PutUint64(buf, t.self)
	buf = append(buf, p[:n]...)

	if _, err := t.conn.WriteToUDP(buf, raddr); err != nil {
		if xerrors.IsTransient(err) {
			return 0, wireless.ErrWouldBlock
		}
		return 0, xerrors.WrapFatal(err, "udpsim", "write")
	}
	return n, nil
}

func (t *Transport) Recv() (wireless.Datagram, error) {
	select {
	case dg, ok := <-t.rx:
		if ok {
			if len(t.rx) > 0 {
				wireless.Notify(t.ready)
			}
			return dg, nil
		}
	default:
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return wireless.Datagram{}, wireless.ErrClosed
	}
	// A dead socket is reported once; after that there is simply nothing
	// to receive.
	if t.readErr != nil && !t.reported {
		t.reported = true
		return wireless.Datagram{}, t.readErr
	}
	return wireless.Datagram{}, wireless.ErrWouldBlock
}

func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *Transport) readLoop() {
	defer close(t.rx)

	buf := make([]byte, 64*1024)
	for {
		n, raddr, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			if xerrors.IsTransient(err) {
				continue
			}
			t.fail(err)
			return
		}
		if n < headerLen {
			t.log.Debug("runt datagram", zap.Stringer("from", raddr), zap.Int("len", n))
			continue
		}
		dg := wireless.Datagram{
			Source:  types.NodeAddress{Extended: binary.BigEndian.Uint64(buf[:headerLen])},
			Payload: append([]byte(nil), buf[headerLen:n]...),
			At:      time.Now(),
		}
		select {
		case t.rx <- dg:
			wireless.Notify(t.ready)
		default:
			t.log.Warn("receive queue full, dropping datagram", zap.Stringer("from", dg.Source))
		}
	}
}

// fail records why the read loop stopped, unless Close stopped it.
func (t *Transport) fail(err error) {
	t.mu.Lock()
	if !t.closed {
		t.readErr = xerrors.WrapFatal(err, "udpsim", "read")
		t.log.Error("receive loop stopped", zap.Error(err))
	}
	t.mu.Unlock()
	wireless.Notify(t.ready)
}
