package engine

import (
	"net"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/samaelod/xbridge/types"
)

// outEntry is one client message waiting for the radio.
type outEntry struct {
	dest    types.NodeAddress
	id      types.Identifier
	payload []byte
	cursor  int
}

func (e *outEntry) remaining() int { return len(e.payload) - e.cursor }

// inflightSend is the entry whose most recent chunk the radio accepted.
type inflightSend struct {
	conn  *Connection
	entry *outEntry
}

// aggregate collects datagrams from one source until the debounce window
// closes.
type aggregate struct {
	source types.Identifier
	data   []byte
	first  time.Time
}

// Connection is one TCP client. Only the reactor goroutine touches it; the
// pumps talk to it through events and writeCh.
type Connection struct {
	ID     string
	Remote string

	nc    net.Conn
	ep    *listener
	state types.ConnState
	log   *zap.Logger

	queue       []*outEntry
	queuedBytes int
	aggs        []*aggregate
	tcpOut      [][]byte
	writing     bool
	writeCh     chan []byte
	framer      framer

	accepted     time.Time
	lastActivity time.Time
}

func newConnection(nc net.Conn, ep *listener, now time.Time, log *zap.Logger) *Connection {
	id := uuid.NewString()
	c := &Connection{
		ID:           id,
		Remote:       nc.RemoteAddr().String(),
		nc:           nc,
		ep:           ep,
		state:        types.StateAccepting,
		writeCh:      make(chan []byte, 1),
		accepted:     now,
		lastActivity: now,
	}
	c.log = log.With(
		zap.String("conn", id[:8]),
		zap.String("endpoint", ep.name),
		zap.String("remote", c.Remote),
	)
	return c
}

func (c *Connection) State() types.ConnState { return c.state }

func (c *Connection) enqueue(e *outEntry) {
	c.queue = append(c.queue, e)
	c.queuedBytes += len(e.payload)
}

func (c *Connection) popHead() *outEntry {
	e := c.queue[0]
	c.queue[0] = nil
	c.queue = c.queue[1:]
	c.queuedBytes -= len(e.payload)
	return e
}

func (c *Connection) reply(msg []byte) {
	c.tcpOut = append(c.tcpOut, msg)
}

func (c *Connection) aggregateFor(id types.Identifier) *aggregate {
	for _, a := range c.aggs {
		if a.source == id {
			return a
		}
	}
	return nil
}

func (c *Connection) removeAggregate(a *aggregate) {
	for i, x := range c.aggs {
		if x == a {
			c.aggs = append(c.aggs[:i], c.aggs[i+1:]...)
			return
		}
	}
}

func (c *Connection) pendingIn() int {
	n := 0
	for _, a := range c.aggs {
		n += len(a.data)
	}
	return n
}

// readPump turns socket reads into events. It exits on the first error.
func (b *Bridge) readPump(c *Connection) {
	for {
		buf := make([]byte, b.opts.ReadSize)
		n, err := c.nc.Read(buf)
		if n > 0 {
			if !b.post(event{kind: evRead, conn: c, data: buf[:n]}) {
				return
			}
		}
		if err != nil {
			b.post(event{kind: evClosed, conn: c, err: err})
			return
		}
	}
}

// writePump writes one unit at a time and reports back, so the reactor
// always knows whether the socket is busy.
func (b *Bridge) writePump(c *Connection) {
	for data := range c.writeCh {
		n, err := c.nc.Write(data)
		if !b.post(event{kind: evWritten, conn: c, n: n, err: err}) {
			return
		}
		if err != nil {
			return
		}
	}
}
