package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

// stepOutbound sends at most one chunk for the next connection, in
// round-robin order, that has data queued.
func (b *Bridge) stepOutbound(now time.Time) bool {
	n := len(b.conns)
	for i := 0; i < n; i++ {
		idx := (b.rr + i) % n
		c := b.conns[idx]
		if len(c.queue) == 0 {
			continue
		}

		var res *rate.Reservation
		if b.limiter != nil {
			res = b.limiter.ReserveN(now, 1)
			if !res.OK() || res.DelayFrom(now) > 0 {
				res.CancelAt(now)
				return false
			}
		}

		progressed, blocked := b.sendHead(c, now)
		if blocked {
			if res != nil {
				res.CancelAt(now)
			}
			return false
		}
		b.rr = (idx + 1) % n
		return progressed
	}
	return false
}

// sendHead offers the radio up to one MTU from the head entry's cursor.
func (b *Bridge) sendHead(c *Connection, now time.Time) (progressed, blocked bool) {
	e := c.queue[0]
	chunk := e.payload[e.cursor:]
	if mtu := b.radio.MTU(); len(chunk) > mtu {
		chunk = chunk[:mtu]
	}

	n, err := b.radio.Send(e.dest, chunk)
	if errors.Is(err, wireless.ErrWouldBlock) {
		return false, true
	}
	if err != nil {
		b.dropHead(c, wireless.Classify(err), err)
		return true, false
	}
	if n <= 0 {
		return false, false
	}
	if n > len(chunk) {
		n = len(chunk)
	}

	b.record(types.DirectionTx, e.dest, chunk[:n], now)
	b.counters.txFrames.Inc()
	b.counters.txBytes.Add(uint64(n))
	b.metrics.RadioSent(n)

	b.inflight = inflightSend{conn: c, entry: e}
	e.cursor += n
	if e.remaining() == 0 {
		c.popHead()
	}
	return true, false
}

// dropHead abandons the head entry after a send or delivery error and tells
// the client. The entry is never retried.
func (b *Bridge) dropHead(c *Connection, class xerrors.ErrorClass, err error) {
	e := c.popHead()
	if b.inflight.entry == e {
		b.inflight = inflightSend{}
	}

	fields := []zap.Field{
		zap.Stringer("addr", e.dest),
		zap.Stringer("dest", e.id),
		zap.Int("bytes", e.remaining()),
		zap.Stringer("class", class),
		zap.Error(err),
	}
	if class == xerrors.ErrorFatal {
		c.log.Error("radio send failed, entry dropped", fields...)
	} else {
		c.log.Warn("radio send failed, entry dropped", fields...)
	}

	b.counters.radioErrors.Inc()
	b.counters.drop.Inc()
	b.metrics.RadioError(class.String())
	b.metrics.Drop("send_failed")

	b.reply(c, sendFailedNotice(e.id, e.remaining(), err))
}

// takeInflight returns the entry whose last chunk went to addr if it is
// still at the head of its client's queue.
func (b *Bridge) takeInflight(addr types.NodeAddress) (*Connection, *outEntry) {
	f := b.inflight
	if f.entry == nil || f.entry.dest.Extended != addr.Extended {
		return nil, nil
	}
	b.inflight = inflightSend{}
	if f.conn.state != types.StateBound || len(f.conn.queue) == 0 || f.conn.queue[0] != f.entry {
		return nil, nil
	}
	return f.conn, f.entry
}

func (b *Bridge) record(dir types.Direction, addr types.NodeAddress, payload []byte, at time.Time) {
	if b.opts.Recorder == nil {
		return
	}
	if err := b.opts.Recorder.Record(dir, addr, payload, at); err != nil {
		b.log.Warn("capture write failed", zap.Error(err))
	}
}
