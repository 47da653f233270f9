// Package wirelesstest provides an in-memory radio for tests.
package wirelesstest

import (
	"bytes"
	"sync"
	"time"

	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

// Chunk is one accepted Send.
type Chunk struct {
	Addr types.NodeAddress
	Data []byte
}

type item struct {
	dg  wireless.Datagram
	err error
}

// Fake implements wireless.Transport. Every knob is safe to turn while a
// bridge is using it.
type Fake struct {
	mu    sync.Mutex
	mtu   int
	ready chan struct{}

	inbox    []item
	sent     []Chunk
	attempts map[uint64]int

	shortSends []int
	maxAccept  int
	failures   map[uint64]error
	blockSend  bool
	blockRecv  bool
	dropNext   int
	closed     bool
}

var _ wireless.Transport = (*Fake)(nil)

func New(mtu int) *Fake {
	return &Fake{
		mtu:      mtu,
		ready:    make(chan struct{}, 1),
		attempts: make(map[uint64]int),
		failures: make(map[uint64]error),
	}
}

func (f *Fake) Send(addr types.NodeAddress, p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return 0, wireless.ErrClosed
	}
	if f.blockSend {
		return 0, wireless.ErrWouldBlock
	}
	f.attempts[addr.Extended]++
	if err, ok := f.failures[addr.Extended]; ok {
		return 0, err
	}
	if len(p) > f.mtu {
		return 0, wireless.ErrTooLarge
	}

	n := len(p)
	if len(f.shortSends) > 0 {
		n = min(n, f.shortSends[0])
		f.shortSends = f.shortSends[1:]
	}
	if f.maxAccept > 0 {
		n = min(n, f.maxAccept)
	}
	if n > 0 {
		f.sent = append(f.sent, Chunk{Addr: addr, Data: bytes.Clone(p[:n])})
	}
	return n, nil
}

func (f *Fake) Recv() (wireless.Datagram, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return wireless.Datagram{}, wireless.ErrClosed
	}
	if f.blockRecv || len(f.inbox) == 0 {
		return wireless.Datagram{}, wireless.ErrWouldBlock
	}
	it := f.inbox[0]
	f.inbox = f.inbox[1:]
	if len(f.inbox) > 0 {
		wireless.Notify(f.ready)
	}
	return it.dg, it.err
}

func (f *Fake) Ready() <-chan struct{} { return f.ready }

func (f *Fake) MTU() int { return f.mtu }

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// Inject queues a datagram from src as if the radio had received it.
func (f *Fake) Inject(src types.NodeAddress, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dropNext > 0 {
		f.dropNext--
		return
	}
	f.inbox = append(f.inbox, item{dg: wireless.Datagram{
		Source:  src,
		Payload: bytes.Clone(payload),
		At:      time.Now(),
	}})
	wireless.Notify(f.ready)
}

// InjectError queues an error for Recv, e.g. a *wireless.DeliveryError.
func (f *Fake) InjectError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inbox = append(f.inbox, item{err: err})
	wireless.Notify(f.ready)
}

// DropNext silently loses the next n injected datagrams.
func (f *Fake) DropNext(n int) {
	f.mu.Lock()
	f.dropNext = n
	f.mu.Unlock()
}

// Reverse flips the order of datagrams not yet received.
func (f *Fake) Reverse() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, j := 0, len(f.inbox)-1; i < j; i, j = i+1, j-1 {
		f.inbox[i], f.inbox[j] = f.inbox[j], f.inbox[i]
	}
}

// ScriptShortSends caps the next len(limits) sends at the given sizes.
func (f *Fake) ScriptShortSends(limits ...int) {
	f.mu.Lock()
	f.shortSends = append(f.shortSends, limits...)
	f.mu.Unlock()
}

// SetMaxAccept caps every send at n bytes; 0 removes the cap.
func (f *Fake) SetMaxAccept(n int) {
	f.mu.Lock()
	f.maxAccept = n
	f.mu.Unlock()
}

// FailDestination makes every send to addr fail with err; nil clears it.
func (f *Fake) FailDestination(addr types.NodeAddress, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.failures, addr.Extended)
		return
	}
	f.failures[addr.Extended] = err
}

func (f *Fake) SetBlocked(send, recv bool) {
	f.mu.Lock()
	f.blockSend, f.blockRecv = send, recv
	f.mu.Unlock()
	if !send || !recv {
		wireless.Notify(f.ready)
	}
}

// Sent returns every accepted chunk in order.
func (f *Fake) Sent() []Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Chunk, len(f.sent))
	copy(out, f.sent)
	return out
}

// SentTo concatenates everything accepted for addr.
func (f *Fake) SentTo(addr types.NodeAddress) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	var buf bytes.Buffer
	for _, c := range f.sent {
		if c.Addr.Extended == addr.Extended {
			buf.Write(c.Data)
		}
	}
	return buf.Bytes()
}

// Attempts counts Send calls for addr that got past would-block.
func (f *Fake) Attempts(addr types.NodeAddress) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[addr.Extended]
}

func (f *Fake) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.inbox)
}
