package engine

import (
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

// stepInbound takes at most one datagram (or delivery report) off the radio.
func (b *Bridge) stepInbound(now time.Time) bool {
	dg, err := b.radio.Recv()
	if err != nil {
		var de *wireless.DeliveryError
		switch {
		case errors.Is(err, wireless.ErrWouldBlock):
			return false
		case errors.As(err, &de):
			b.handleDeliveryError(de)
			return true
		}
		class := wireless.Classify(err)
		b.log.Error("radio receive failed", zap.Stringer("class", class), zap.Error(err))
		b.counters.radioErrors.Inc()
		b.metrics.RadioError(class.String())
		return false
	}
	b.handleDatagram(dg, now)
	return true
}

// connectionFor finds the client that should see traffic from id.
func (b *Bridge) connectionFor(id types.Identifier) *Connection {
	if b.mux != nil {
		return b.mux.occupant
	}
	if l, ok := b.byID[id]; ok {
		return l.occupant
	}
	return nil
}

func (b *Bridge) handleDatagram(dg wireless.Datagram, now time.Time) {
	b.record(types.DirectionRx, dg.Source, dg.Payload, now)
	b.counters.rxFrames.Inc()
	b.counters.rxBytes.Add(uint64(len(dg.Payload)))
	b.metrics.RadioReceived(len(dg.Payload))

	id, err := b.dir.ResolveAddress(dg.Source)
	if err != nil {
		b.log.Warn("datagram from unmapped node discarded",
			zap.Stringer("addr", dg.Source), zap.Int("bytes", len(dg.Payload)))
		b.counters.drop.Inc()
		b.metrics.Drop("unknown_source")
		return
	}
	c := b.connectionFor(id)
	if c == nil {
		b.log.Debug("no client for datagram, discarded",
			zap.Stringer("source", id), zap.Int("bytes", len(dg.Payload)))
		b.counters.drop.Inc()
		b.metrics.Drop("no_client")
		return
	}
	b.coalesce(c, id, dg.Payload, now)
}

// coalesce appends p to the source's open aggregate if its window is still
// open, otherwise flushes that aggregate and starts a new one.
func (b *Bridge) coalesce(c *Connection, id types.Identifier, p []byte, now time.Time) {
	agg := c.aggregateFor(id)
	if agg != nil && now.Sub(agg.first) >= b.opts.Debounce {
		b.flush(c, agg, now)
		agg = nil
	}
	if agg == nil {
		agg = &aggregate{source: id, first: now}
		c.aggs = append(c.aggs, agg)
	}
	agg.data = append(agg.data, p...)
}

// handleDeliveryError reports an asynchronous send failure to the client
// bound to the destination, if any. When the failed chunk belongs to an
// entry that still has bytes queued, the rest of that entry is dropped.
func (b *Bridge) handleDeliveryError(de *wireless.DeliveryError) {
	class := wireless.Classify(de)
	if c, e := b.takeInflight(de.Addr); e != nil {
		e.cursor = max(0, e.cursor-de.Bytes)
		b.dropHead(c, class, errors.New(de.Reason))
		return
	}

	b.counters.radioErrors.Inc()
	b.metrics.RadioError(class.String())

	id, err := b.dir.ResolveAddress(de.Addr)
	if err != nil {
		b.log.Warn("delivery failed to unmapped node", zap.Stringer("addr", de.Addr), zap.String("reason", de.Reason))
		return
	}
	c := b.connectionFor(id)
	if c == nil {
		b.log.Info("delivery failed, no client to tell", zap.Stringer("dest", id), zap.String("reason", de.Reason))
		return
	}
	c.log.Warn("delivery failed", zap.Stringer("dest", id), zap.Int("bytes", de.Bytes), zap.String("reason", de.Reason))
	b.reply(c, sendFailedNotice(id, de.Bytes, errors.New(de.Reason)))
}

// sweep flushes every aggregate whose window has closed.
func (b *Bridge) sweep(now time.Time) bool {
	flushed := false
	for _, c := range b.conns {
		for i := 0; i < len(c.aggs); {
			agg := c.aggs[i]
			if now.Sub(agg.first) < b.opts.Debounce {
				i++
				continue
			}
			b.flush(c, agg, now)
			flushed = true
		}
	}
	return flushed
}

// flush moves an aggregate to the client's TCP output. Multiplexed clients
// get the source name in front.
func (b *Bridge) flush(c *Connection, agg *aggregate, now time.Time) {
	c.removeAggregate(agg)

	out := agg.data
	if c.ep.kind == kindMultiplexed {
		out = make([]byte, 0, len(agg.source.Name)+1+len(agg.data)+len(b.opts.Delimiter))
		out = append(out, agg.source.Name...)
		out = append(out, ':')
		out = append(out, agg.data...)
		out = append(out, b.opts.Delimiter...)
	}
	c.tcpOut = append(c.tcpOut, out)

	b.counters.flushes.Inc()
	b.metrics.Flushed(now.Sub(agg.first))
}
