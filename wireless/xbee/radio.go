// Package xbee drives a local XBee module in API mode over a serial line
// and exposes it as a wireless.Transport.
package xbee

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"go.bug.st/serial"
	"go.uber.org/zap"

	xerrors "github.com/samaelod/xbridge/errors"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless"
)

const (
	defaultProbeTimeout  = 2 * time.Second
	defaultStatusTimeout = 5 * time.Second
)

type Options struct {
	Escaped       bool // AP=2
	ProbeTimeout  time.Duration
	StatusTimeout time.Duration
	Logger        *zap.Logger
}

type inflight struct {
	frameID  byte
	addr     types.NodeAddress
	bytes    int
	deadline time.Time
}

// Radio keeps at most one transmission in flight: Send reports
// wireless.ErrWouldBlock until the module answers with a TX status or the
// status timeout passes.
type Radio struct {
	port io.ReadWriteCloser
	opts Options
	log  *zap.Logger

	wmu sync.Mutex

	mu       sync.Mutex
	profile  wireless.Profile
	inbox    []wireless.Datagram
	reports  []*wireless.DeliveryError
	pending  *inflight
	frameID  byte
	waiters  map[byte]chan ATResponse
	readErr  error
	reported bool
	closed   bool

	ready chan struct{}
	done  chan struct{}
}

var _ wireless.Transport = (*Radio)(nil)

// Open opens a serial device and starts reading frames from it.
func Open(name string, baud int, opts Options) (*Radio, error) {
	port, err := serial.Open(name, &serial.Mode{BaudRate: baud})
	if err != nil {
		return nil, xerrors.WrapFatal(err, "xbee", "open")
	}
	r := New(port, opts)
	r.log.Info("serial port opened", zap.String("port", name), zap.Int("baud", baud))
	return r, nil
}

// New takes ownership of port. The profile starts as Series 1 until Detect
// or SetProfile says otherwise.
func New(port io.ReadWriteCloser, opts Options) *Radio {
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = defaultProbeTimeout
	}
	if opts.StatusTimeout <= 0 {
		opts.StatusTimeout = defaultStatusTimeout
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	r := &Radio{
		port:    port,
		opts:    opts,
		log:     opts.Logger.Named("xbee"),
		profile: wireless.Series1,
		waiters: make(map[byte]chan ATResponse),
		ready:   make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go r.readLoop()
	return r
}

func (r *Radio) SetProfile(p wireless.Profile) {
	r.mu.Lock()
	r.profile = p
	r.mu.Unlock()
}

func (r *Radio) Profile() wireless.Profile {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.profile
}

func (r *Radio) MTU() int { return r.Profile().MTU }

func (r *Radio) Ready() <-chan struct{} { return r.ready }

func (r *Radio) nextFrameIDLocked() byte {
	r.frameID++
	if r.frameID == 0 {
		r.frameID = 1
	}
	return r.frameID
}

func (r *Radio) writeFrame(data []byte) error {
	frame := Encode(data, r.opts.Escaped)

	r.wmu.Lock()
	defer r.wmu.Unlock()
	for written := 0; written < len(frame); {
		n, err := r.port.Write(frame[written:])
		if err != nil {
			return err
		}
		written += n
	}
	return nil
}

func (r *Radio) Send(addr types.NodeAddress, p []byte) (int, error) {
	now := time.Now()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return 0, wireless.ErrClosed
	}
	r.expireLocked(now)
	if r.pending != nil {
		r.mu.Unlock()
		return 0, wireless.ErrWouldBlock
	}

	prof := r.profile
	n := min(len(p), prof.MTU)
	req := TxRequest{
		FrameID:   r.nextFrameIDLocked(),
		Dest64:    addr.Extended,
		SrcEP:     prof.Endpoint,
		DstEP:     addr.Endpoint,
		ClusterID: addr.ClusterID,
		ProfileID: addr.ProfileID,
		Explicit:  prof.Series == 2,
		Data:      p[:n],
	}
	if req.Explicit && addr.Endpoint == 0 {
		req.DstEP, req.ClusterID, req.ProfileID = prof.Endpoint, prof.ClusterID, prof.ProfileID
	}
	r.pending = &inflight{frameID: req.FrameID, addr: addr, bytes: n, deadline: now.Add(r.opts.StatusTimeout)}
	r.mu.Unlock()

	data, err := req.MarshalBinary()
	if err == nil {
		err = r.writeFrame(data)
	}
	if err != nil {
		r.mu.Lock()
		r.pending = nil
		r.mu.Unlock()
		return 0, xerrors.WrapFatal(err, "xbee", "write")
	}
	return n, nil
}

func (r *Radio) Recv() (wireless.Datagram, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return wireless.Datagram{}, wireless.ErrClosed
	}
	r.expireLocked(time.Now())
	// Failure reports go first so the caller can abandon the rest of the
	// failed payload before sending more of it.
	if len(r.reports) > 0 {
		de := r.reports[0]
		r.reports = r.reports[1:]
		if len(r.reports) > 0 || len(r.inbox) > 0 {
			wireless.Notify(r.ready)
		}
		return wireless.Datagram{}, de
	}
	if len(r.inbox) > 0 {
		dg := r.inbox[0]
		r.inbox = r.inbox[1:]
		if len(r.inbox) > 0 {
			wireless.Notify(r.ready)
		}
		return dg, nil
	}
	if r.readErr != nil && !r.reported {
		r.reported = true
		return wireless.Datagram{}, r.readErr
	}
	return wireless.Datagram{}, wireless.ErrWouldBlock
}

// expireLocked turns a transmission the module never answered into a
// delivery error.
func (r *Radio) expireLocked(now time.Time) {
	if r.pending == nil || now.Before(r.pending.deadline) {
		return
	}
	r.reports = append(r.reports, &wireless.DeliveryError{
		Addr:   r.pending.addr,
		Bytes:  r.pending.bytes,
		Reason: fmt.Sprintf("no transmit status within %s", r.opts.StatusTimeout),
	})
	r.pending = nil
}

func (r *Radio) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()
	return r.port.Close()
}

func (r *Radio) readLoop() {
	defer close(r.done)

	dec := NewDecoder(r.port, r.opts.Escaped)
	for {
		data, err := dec.Next()
		if err != nil {
			if errors.Is(err, ErrChecksum) || errors.Is(err, ErrShortData) {
				r.log.Debug("discarding frame", zap.Error(err))
				continue
			}
			r.mu.Lock()
			if !r.closed {
				r.readErr = xerrors.WrapFatal(err, "xbee", "read")
				r.log.Error("serial read failed", zap.Error(err))
			}
			r.mu.Unlock()
			wireless.Notify(r.ready)
			return
		}
		r.dispatch(data)
	}
}

func (r *Radio) dispatch(data []byte) {
	switch data[0] {
	case FrameATResponse:
		resp, err := parseATResponse(data)
		if err != nil {
			r.log.Debug("bad AT response", zap.Error(err))
			return
		}
		r.mu.Lock()
		ch := r.waiters[resp.FrameID]
		delete(r.waiters, resp.FrameID)
		r.mu.Unlock()
		if ch != nil {
			ch <- resp
		}

	case FrameTxStatus, FrameTxStatus64:
		st, err := parseTxStatus(data)
		if err != nil {
			r.log.Debug("bad TX status", zap.Error(err))
			return
		}
		r.mu.Lock()
		if r.pending != nil && r.pending.frameID == st.FrameID {
			if st.Delivery != 0 {
				r.reports = append(r.reports, &wireless.DeliveryError{
					Addr:   r.pending.addr,
					Bytes:  r.pending.bytes,
					Reason: deliveryReason(st.Delivery),
				})
			}
			r.pending = nil
		}
		r.mu.Unlock()
		wireless.Notify(r.ready)

	case FrameRxExplicit, FrameRx64:
		pkt, err := parseRx(data)
		if err != nil {
			r.log.Debug("bad RX frame", zap.Error(err))
			return
		}
		dg := wireless.Datagram{
			Source: types.NodeAddress{
				Extended:  pkt.Source64,
				Endpoint:  pkt.SrcEP,
				ProfileID: pkt.ProfileID,
				ClusterID: pkt.ClusterID,
			},
			Payload: pkt.Data,
			At:      time.Now(),
		}
		r.mu.Lock()
		r.inbox = append(r.inbox, dg)
		r.mu.Unlock()
		wireless.Notify(r.ready)

	default:
		r.log.Debug("ignoring frame", zap.Uint8("type", data[0]), zap.Int("len", len(data)))
	}
}

// AT runs a local AT command and returns its parameter bytes.
func (r *Radio) AT(ctx context.Context, cmd string, param []byte) ([]byte, error) {
	ch := make(chan ATResponse, 1)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, wireless.ErrClosed
	}
	fid := r.nextFrameIDLocked()
	r.waiters[fid] = ch
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		delete(r.waiters, fid)
		r.mu.Unlock()
	}()

	data, err := ATCommand{FrameID: fid, Command: cmd, Param: param}.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if err := r.writeFrame(data); err != nil {
		return nil, xerrors.WrapFatal(err, "xbee", "write")
	}

	ctx, cancel := context.WithTimeout(ctx, r.opts.ProbeTimeout)
	defer cancel()

	select {
	case resp := <-ch:
		if resp.Status != 0 {
			return nil, fmt.Errorf("xbee: AT %s returned status %d", cmd, resp.Status)
		}
		return resp.Data, nil
	case <-ctx.Done():
		return nil, fmt.Errorf("xbee: AT %s: %w", cmd, xerrors.ErrTimeout)
	case <-r.done:
		return nil, wireless.ErrClosed
	}
}

type ProbeResult struct {
	HV        uint16
	Encrypted bool
}

// Probe reads the hardware version and encryption flag.
func (r *Radio) Probe(ctx context.Context) (ProbeResult, error) {
	var res ProbeResult

	hv, err := r.AT(ctx, "HV", nil)
	if err != nil {
		return res, err
	}
	if len(hv) < 2 {
		return res, fmt.Errorf("xbee: HV reply of %d bytes: %w", len(hv), xerrors.ErrInvalidData)
	}
	res.HV = binary.BigEndian.Uint16(hv)

	ee, err := r.AT(ctx, "EE", nil)
	if err != nil {
		r.log.Debug("EE query failed, assuming encryption off", zap.Error(err))
	} else if len(ee) > 0 {
		res.Encrypted = ee[0] != 0
	}
	return res, nil
}

// Detect probes the module once and installs the matching profile. Unless
// required is set a failed probe falls back to Series 1.
func (r *Radio) Detect(ctx context.Context, required bool) (wireless.Profile, error) {
	res, err := r.Probe(ctx)
	if err != nil {
		if required {
			return wireless.Profile{}, xerrors.WrapInvalid(
				fmt.Errorf("hardware probe: %w: %w", xerrors.ErrInvalidConfig, err), "xbee", "probe")
		}
		r.log.Warn("hardware probe failed, assuming series 1", zap.Error(err))
	}

	p := wireless.SelectProfile(res.HV, err, res.Encrypted)
	r.SetProfile(p)
	r.log.Info("radio profile selected",
		zap.String("profile", p.Name),
		zap.Uint16("hv", res.HV),
		zap.Bool("encrypted", p.Encrypted),
		zap.Int("mtu", p.MTU))
	return p, nil
}
