package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
)

type eventKind int

const (
	evAccept eventKind = iota
	evAcceptErr
	evRead
	evClosed
	evWritten
)

type event struct {
	kind     eventKind
	listener *listener
	conn     *Connection
	nc       net.Conn
	data     []byte
	n        int
	err      error
}

func (b *Bridge) loop(ctx context.Context) {
	timer := time.NewTimer(b.opts.Tick)
	defer timer.Stop()

	progressed := false
	for !b.stopping {
		woke := false
		if progressed {
			select {
			case <-ctx.Done():
				return
			default:
			}
		} else {
			timer.Reset(b.opts.Tick)
			select {
			case <-ctx.Done():
				return
			case ev := <-b.events:
				b.apply(ev, b.clock.Now())
				woke = true
			case fn := <-b.control:
				fn()
				woke = true
			case <-b.radio.Ready():
			case <-timer.C:
			}
		}
		progressed = b.iterate(b.clock.Now()) || woke
	}
}

// iterate runs one reactor pass and reports whether anything moved.
func (b *Bridge) iterate(now time.Time) bool {
	progress := false

drain:
	for i := 0; i < maxEventsPerRun; i++ {
		select {
		case ev := <-b.events:
			b.apply(ev, now)
		case fn := <-b.control:
			fn()
		default:
			break drain
		}
		progress = true
	}
	if b.stopping {
		return false
	}

	// Inbound first: a delivery report must be seen before the next chunk
	// of the entry it refers to goes out.
	if b.stepInbound(now) {
		progress = true
	}
	if b.stepOutbound(now) {
		progress = true
	}
	if b.pumpWrites() {
		progress = true
	}
	if b.sweep(now) {
		progress = true
	}

	b.publish(now)
	if b.metrics != nil {
		total := 0
		for _, c := range b.conns {
			total += c.queuedBytes
		}
		b.metrics.SetQueued(total)
	}
	return progress
}

func (b *Bridge) apply(ev event, now time.Time) {
	switch ev.kind {
	case evAccept:
		b.accept(ev.listener, ev.nc, now)

	case evAcceptErr:
		if !b.closed.Load() && !errors.Is(ev.err, net.ErrClosed) {
			b.log.Error("accept failed, endpoint disabled",
				zap.String("endpoint", ev.listener.name), zap.Error(ev.err))
		}

	case evRead:
		if ev.conn.state != types.StateBound {
			return
		}
		ev.conn.lastActivity = now
		b.metrics.TCPRead(len(ev.data))
		b.handleRead(ev.conn, ev.data)

	case evClosed:
		if ev.conn.state == types.StateClosed {
			return
		}
		if errors.Is(ev.err, io.EOF) {
			b.closeConnection(ev.conn, "eof", nil)
		} else {
			b.closeConnection(ev.conn, "read_error", ev.err)
		}

	case evWritten:
		c := ev.conn
		if c.state == types.StateClosed {
			return
		}
		c.writing = false
		if ev.err != nil {
			b.closeConnection(c, "write_error", ev.err)
			return
		}
		c.lastActivity = now
		b.metrics.TCPWritten(ev.n)
	}
}

// accept installs a new client on l, evicting whoever held it.
func (b *Bridge) accept(l *listener, nc net.Conn, now time.Time) {
	if l.kind == kindAdmin {
		b.log.Info("shutdown requested on admin endpoint", zap.Stringer("remote", nc.RemoteAddr()))
		nc.Close()
		b.stopping = true
		return
	}
	if b.closed.Load() {
		nc.Close()
		return
	}

	if prev := l.occupant; prev != nil {
		b.closeConnection(prev, "replaced", nil)
	}

	c := newConnection(nc, l, now, b.log)
	if len(b.opts.Delimiter) > 0 && l.kind == kindMultiplexed {
		c.framer = framer{delim: []byte(b.opts.Delimiter), max: b.opts.ReadSize * 8}
	}
	l.occupant = c
	b.conns = append(b.conns, c)
	c.state = types.StateBound

	b.counters.accepted.Inc()
	b.metrics.Accepted()
	if l.kind == kindDedicated {
		c.log.Info("client connected", zap.Stringer("node", l.node))
	} else {
		c.log.Info("client connected")
	}

	go b.readPump(c)
	go b.writePump(c)
}

func (b *Bridge) handleRead(c *Connection, data []byte) {
	if c.ep.kind == kindDedicated {
		c.enqueue(&outEntry{dest: c.ep.node, id: c.ep.id, payload: data})
		return
	}
	for _, msg := range c.framer.feed(data) {
		b.handleMessage(c, msg)
	}
}

// handleMessage parses one "name:payload" message. Bad messages get an
// in-band reply and the client stays connected.
func (b *Bridge) handleMessage(c *Connection, msg []byte) {
	name, payload, ok := splitMessage(msg)
	if !ok {
		b.protocolError(c, protoFormat, msgInvalidFormat)
		return
	}
	addr, err := b.dir.ResolveName(name)
	if err != nil {
		b.protocolError(c, protoUnknownName, fmt.Sprintf(msgUnknownName, name))
		return
	}
	if len(payload) == 0 {
		b.protocolError(c, protoEmpty, msgEmptyPayload)
		return
	}
	c.enqueue(&outEntry{dest: addr, id: types.NameID(name), payload: payload})
}

func (b *Bridge) protocolError(c *Connection, kind protoErr, text string) {
	c.log.Debug("rejected message", zap.Stringer("reason", kind))
	b.metrics.ProtocolError(kind.String())
	b.reply(c, text)
}

// reply queues a bridge-generated line for the client.
func (b *Bridge) reply(c *Connection, text string) {
	msg := []byte(text)
	if c.ep.kind == kindMultiplexed && b.opts.Delimiter != "" {
		msg = append(msg, b.opts.Delimiter...)
	}
	c.reply(msg)
}

// pumpWrites gives every idle write pump its next unit.
func (b *Bridge) pumpWrites() bool {
	progress := false
	for _, c := range b.conns {
		if c.writing || len(c.tcpOut) == 0 {
			continue
		}
		unit := c.tcpOut[0]
		c.tcpOut[0] = nil
		c.tcpOut = c.tcpOut[1:]
		c.writing = true
		c.writeCh <- unit
		progress = true
	}
	return progress
}

// closeConnection tears a client down immediately. Anything still queued in
// either direction is discarded.
func (b *Bridge) closeConnection(c *Connection, reason string, err error) {
	if c.state == types.StateClosed || c.state == types.StateClosing {
		return
	}
	c.state = types.StateClosing

	fields := []zap.Field{
		zap.String("reason", reason),
		zap.Int("queued", len(c.queue)),
		zap.Int("queued_bytes", c.queuedBytes),
		zap.Int("pending_in", c.pendingIn()),
	}
	if err != nil {
		fields = append(fields, zap.Error(err), zap.Stringer("class", xerrors.Classify(err)))
	}
	c.log.Info("client closed", fields...)

	if dropped := len(c.queue) + len(c.aggs) + len(c.tcpOut); dropped > 0 {
		b.counters.drop.Add(uint64(dropped))
		b.metrics.Drop("closed")
	}

	c.nc.Close()
	close(c.writeCh)
	c.queue, c.queuedBytes, c.aggs, c.tcpOut = nil, 0, nil, nil
	if b.inflight.conn == c {
		b.inflight = inflightSend{}
	}

	for i, x := range b.conns {
		if x == c {
			b.conns = append(b.conns[:i], b.conns[i+1:]...)
			if b.rr > i {
				b.rr--
			}
			break
		}
	}
	if len(b.conns) == 0 || b.rr >= len(b.conns) {
		b.rr = 0
	}
	if c.ep.occupant == c {
		c.ep.occupant = nil
	}

	c.state = types.StateClosed
	b.counters.closed.Inc()
	b.metrics.Closed(reason)
}
