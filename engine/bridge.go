// Package engine runs the bridge: TCP listeners, per-client queues and the
// reactor that moves bytes between them and the radio.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/samaelod/xbridge/directory"
	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/metric"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

const (
	defaultDebounce = 300 * time.Millisecond
	defaultTick     = 50 * time.Millisecond
	defaultReadSize = 8192
	eventQueueSize  = 256
	maxEventsPerRun = 64
	minAcceptDelay  = 5 * time.Millisecond
	maxAcceptDelay  = time.Second

	muxEndpoint   = "mux"
	adminEndpoint = "admin"
)

var ErrNoClient = errors.New("no client connected")

// Recorder receives every datagram that crosses the radio.
type Recorder interface {
	Record(dir types.Direction, addr types.NodeAddress, payload []byte, at time.Time) error
}

type Options struct {
	Mode          types.FramingMode
	ListenHost    string
	MultiplexAddr string // multiplexed mode only
	Delimiter     string
	AdminAddr     string // empty disables the admin channel

	Debounce time.Duration
	Tick     time.Duration
	ReadSize int

	// TxRate limits radio sends per second; zero means unlimited.
	TxRate  float64
	TxBurst int

	Clock    Clock
	Logger   *zap.Logger
	Metrics  *metric.Metrics
	Recorder Recorder
}

type listenerKind int

const (
	kindDedicated listenerKind = iota
	kindMultiplexed
	kindAdmin
)

type listener struct {
	kind     listenerKind
	name     string
	addr     string
	id       types.Identifier
	node     types.NodeAddress
	ln       net.Listener
	occupant *Connection
}

type counters struct {
	accepted, closed           atomic.Uint64
	txFrames, txBytes          atomic.Uint64
	rxFrames, rxBytes          atomic.Uint64
	radioErrors, flushes, drop atomic.Uint64
}

// Bridge owns every listener and connection. All mutable state belongs to
// the goroutine running Run; other goroutines use Kick, Snapshot and the
// context.
type Bridge struct {
	opts    Options
	dir     *directory.Directory
	radio   wireless.Transport
	log     *zap.Logger
	clock   Clock
	metrics *metric.Metrics
	limiter *rate.Limiter

	listeners []*listener
	byID      map[types.Identifier]*listener
	mux       *listener
	conns     []*Connection
	rr        int
	inflight  inflightSend

	events    chan event
	control   chan func()
	done      chan struct{}
	listening bool
	stopping  bool
	closed    atomic.Bool

	counters counters
	snapshot atomic.Pointer[types.Snapshot]
}

// New checks the table against the framing mode. It does not open any
// socket; Listen or Run does.
func New(dir *directory.Directory, radio wireless.Transport, opts Options) (*Bridge, error) {
	switch {
	case dir == nil || dir.Len() == 0:
		return nil, xerrors.WrapInvalid(fmt.Errorf("empty node table: %w", xerrors.ErrInvalidConfig), "bridge", "new")
	case opts.Mode == types.DedicatedPort && dir.Kind() != directory.KindPort:
		return nil, xerrors.WrapInvalid(fmt.Errorf("dedicated framing needs a port-keyed table, got %s: %w",
			dir.Kind(), xerrors.ErrInvalidConfig), "bridge", "new")
	case opts.Mode == types.Multiplexed && dir.Kind() != directory.KindName:
		return nil, xerrors.WrapInvalid(fmt.Errorf("multiplexed framing needs a name-keyed table, got %s: %w",
			dir.Kind(), xerrors.ErrInvalidConfig), "bridge", "new")
	case radio == nil || radio.MTU() <= 0:
		return nil, xerrors.WrapInvalid(fmt.Errorf("radio with a positive MTU required: %w", xerrors.ErrInvalidConfig), "bridge", "new")
	}

	if opts.Debounce <= 0 {
		opts.Debounce = defaultDebounce
	}
	if opts.Tick <= 0 {
		opts.Tick = defaultTick
	}
	if opts.ReadSize <= 0 {
		opts.ReadSize = defaultReadSize
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	b := &Bridge{
		opts:    opts,
		dir:     dir,
		radio:   radio,
		log:     opts.Logger.Named("bridge"),
		clock:   opts.Clock,
		metrics: opts.Metrics,
		byID:    make(map[types.Identifier]*listener),
		events:  make(chan event, eventQueueSize),
		control: make(chan func()),
		done:    make(chan struct{}),
	}
	if opts.TxRate > 0 {
		burst := opts.TxBurst
		if burst <= 0 {
			burst = 1
		}
		b.limiter = rate.NewLimiter(rate.Limit(opts.TxRate), burst)
	}

	switch opts.Mode {
	case types.DedicatedPort:
		for _, m := range dir.Entries() {
			l := &listener{
				kind: kindDedicated,
				name: strconv.Itoa(m.ID.Port),
				addr: net.JoinHostPort(opts.ListenHost, strconv.Itoa(m.ID.Port)),
				id:   m.ID,
				node: m.Address,
			}
			b.listeners = append(b.listeners, l)
			b.byID[m.ID] = l
		}
	case types.Multiplexed:
		b.mux = &listener{kind: kindMultiplexed, name: muxEndpoint, addr: opts.MultiplexAddr}
		b.listeners = append(b.listeners, b.mux)
	}
	if opts.AdminAddr != "" {
		b.listeners = append(b.listeners, &listener{kind: kindAdmin, name: adminEndpoint, addr: opts.AdminAddr})
	}

	b.publish(b.clock.Now())
	return b, nil
}

// Listen opens every listener. A failure closes the ones already open.
func (b *Bridge) Listen() error {
	if b.listening {
		return nil
	}
	for i, l := range b.listeners {
		ln, err := net.Listen("tcp", l.addr)
		if err != nil {
			for _, prev := range b.listeners[:i] {
				prev.ln.Close()
				prev.ln = nil
			}
			return xerrors.WrapFatal(fmt.Errorf("endpoint %s (%s): %w", l.name, l.addr, err), "bridge", "listen")
		}
		l.ln = ln
	}
	for _, l := range b.listeners {
		b.log.Info("listening", zap.String("endpoint", l.name), zap.Stringer("addr", l.ln.Addr()))
		go b.acceptPump(l)
	}
	b.listening = true
	return nil
}

// Addr returns the bound address of an endpoint ("mux", "admin" or a port
// number), or nil.
func (b *Bridge) Addr(endpoint string) net.Addr {
	for _, l := range b.listeners {
		if l.name == endpoint && l.ln != nil {
			return l.ln.Addr()
		}
	}
	return nil
}

// acceptPump backs off on transient accept errors such as running out of
// file descriptors, the way net/http's Server.Serve does.
func (b *Bridge) acceptPump(l *listener) {
	var delay time.Duration
	for {
		nc, err := l.ln.Accept()
		if err != nil {
			if !xerrors.IsTransient(err) {
				b.post(event{kind: evAcceptErr, listener: l, err: err})
				return
			}
			if delay == 0 {
				delay = minAcceptDelay
			} else {
				delay *= 2
			}
			delay = min(delay, maxAcceptDelay)
			b.log.Warn("accept failed, retrying",
				zap.String("endpoint", l.name), zap.Duration("delay", delay), zap.Error(err))
			select {
			case <-time.After(delay):
				continue
			case <-b.done:
				return
			}
		}
		delay = 0
		if !b.post(event{kind: evAccept, listener: l, nc: nc}) {
			nc.Close()
			return
		}
	}
}

// post hands an event to the reactor unless the bridge is gone.
func (b *Bridge) post(ev event) bool {
	select {
	case b.events <- ev:
		return true
	case <-b.done:
		return false
	}
}

// Kick closes the client on endpoint, discarding its queued data.
func (b *Bridge) Kick(endpoint string) error {
	res := make(chan error, 1)
	select {
	case b.control <- func() { res <- b.kick(endpoint) }:
	case <-b.done:
		return xerrors.ErrShuttingDown
	}
	select {
	case err := <-res:
		return err
	case <-b.done:
		return xerrors.ErrShuttingDown
	}
}

func (b *Bridge) kick(endpoint string) error {
	for _, l := range b.listeners {
		if l.name != endpoint {
			continue
		}
		if l.occupant == nil {
			return fmt.Errorf("endpoint %s: %w", endpoint, ErrNoClient)
		}
		b.closeConnection(l.occupant, "kicked", nil)
		return nil
	}
	return fmt.Errorf("endpoint %s: %w", endpoint, directory.ErrNotFound)
}

// Snapshot returns the state published at the end of the last reactor
// iteration.
func (b *Bridge) Snapshot() types.Snapshot {
	if s := b.snapshot.Load(); s != nil {
		return *s
	}
	return types.Snapshot{}
}

// Done is closed once Run has returned and every socket is closed.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Run drives the reactor until ctx is cancelled or the admin endpoint
// accepts a connection. Data path errors never end it.
func (b *Bridge) Run(ctx context.Context) error {
	if b.closed.Load() {
		return xerrors.ErrShuttingDown
	}
	if err := b.Listen(); err != nil {
		return err
	}
	defer b.shutdown()

	b.log.Info("bridge running",
		zap.Stringer("mode", b.opts.Mode),
		zap.Int("mtu", b.radio.MTU()),
		zap.Int("nodes", b.dir.Len()),
		zap.Duration("debounce", b.opts.Debounce))

	b.loop(ctx)
	return nil
}

func (b *Bridge) shutdown() {
	if !b.closed.CompareAndSwap(false, true) {
		return
	}
	for _, l := range b.listeners {
		if l.ln != nil {
			l.ln.Close()
		}
	}
	for len(b.conns) > 0 {
		b.closeConnection(b.conns[0], "shutdown", nil)
	}
	b.publish(b.clock.Now())
	close(b.done)
	b.log.Info("bridge stopped")
}

func (b *Bridge) publish(now time.Time) {
	snap := types.Snapshot{
		Mode: b.opts.Mode.String(),
		MTU:  b.radio.MTU(),
		At:   now,
		Counters: types.Counters{
			Accepted:      b.counters.accepted.Load(),
			Closed:        b.counters.closed.Load(),
			RadioTxFrames: b.counters.txFrames.Load(),
			RadioTxBytes:  b.counters.txBytes.Load(),
			RadioRxFrames: b.counters.rxFrames.Load(),
			RadioRxBytes:  b.counters.rxBytes.Load(),
			RadioErrors:   b.counters.radioErrors.Load(),
			TCPFlushes:    b.counters.flushes.Load(),
			Dropped:       b.counters.drop.Load(),
		},
	}
	for _, l := range b.listeners {
		st := types.EndpointStatus{Endpoint: l.name, Listen: l.addr}
		if l.ln != nil {
			st.Listen = l.ln.Addr().String()
		}
		if l.kind == kindDedicated {
			st.Node = l.node.String()
		}
		if c := l.occupant; c != nil {
			st.Connected = true
			st.ConnID = c.ID
			st.Remote = c.Remote
			st.State = c.state.String()
			st.QueuedOut = len(c.queue)
			st.QueuedBytes = c.queuedBytes
			st.PendingIn = c.pendingIn()
			st.LastActivity = c.lastActivity
		}
		snap.Endpoints = append(snap.Endpoints, st)
	}
	b.snapshot.Store(&snap)
}
