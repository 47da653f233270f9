// Package wireless defines the radio side of the bridge: a shared,
// non-blocking, MTU-bounded datagram transport to the mesh.
package wireless

import (
	"errors"
	"fmt"
	"time"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
)

var (
	// ErrWouldBlock means the transport cannot take or give data right now.
	// It is never a failure.
	ErrWouldBlock = errors.New("would block")
	ErrClosed     = errors.New("transport closed")
	// ErrTooLarge is returned when a chunk exceeds the MTU.
	ErrTooLarge = errors.New("payload exceeds MTU")
)

// Datagram is one radio payload and the node it came from.
type Datagram struct {
	Source  types.NodeAddress
	Payload []byte
	At      time.Time
}

// Transport is the radio. All calls happen on one goroutine; implementations
// only need to be safe against their own background readers.
type Transport interface {
	// Send makes a single attempt and reports how many bytes of p the radio
	// accepted. A short count is not an error.
	Send(addr types.NodeAddress, p []byte) (int, error)
	// Recv returns at most one datagram, or ErrWouldBlock.
	Recv() (Datagram, error)
	// Ready is signalled whenever Send or Recv may make progress.
	Ready() <-chan struct{}
	MTU() int
	Close() error
}

// DeliveryError reports that the radio gave up on an earlier transmission.
type DeliveryError struct {
	Addr   types.NodeAddress
	Bytes  int // payload bytes in the failed frame
	Reason string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery to %s failed: %s", e.Addr, e.Reason)
}

// Classify maps radio errors onto the bridge error classes.
func Classify(err error) xerrors.ErrorClass {
	var de *DeliveryError
	switch {
	case errors.Is(err, ErrWouldBlock), errors.As(err, &de):
		return xerrors.ErrorTransient
	case errors.Is(err, ErrTooLarge):
		return xerrors.ErrorInvalid
	case errors.Is(err, ErrClosed):
		return xerrors.ErrorFatal
	}
	return xerrors.Classify(err)
}

// Notify wakes a reactor blocked on a Ready channel without ever blocking
// the caller.
func Notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
