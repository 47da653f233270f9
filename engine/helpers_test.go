package engine

import (
	"context"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/samaelod/xbridge/directory"
	"github.com/samaelod/xbridge/types"
	"github.com/samaelod/xbridge/wireless/wirelesstest"
)

var (
	addr1 = types.NodeAddress{Extended: 0x0013a20040000001}
	addr2 = types.NodeAddress{Extended: 0x0013a20040000002}
	addr3 = types.NodeAddress{Extended: 0x0013a20040000003}
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
	return c.t
}

func nameTable(t *testing.T) *directory.Directory {
	t.Helper()
	d, err := directory.New([]types.NodeMapping{
		{Address: addr1, ID: types.NameID("node1")},
		{Address: addr2, ID: types.NameID("node2")},
		{Address: addr3, ID: types.NameID("node3")},
	})
	require.NoError(t, err)
	return d
}

func portTable(t *testing.T, ports ...int) *directory.Directory {
	t.Helper()
	addrs := []types.NodeAddress{addr1, addr2, addr3}
	var m []types.NodeMapping
	for i, p := range ports {
		m = append(m, types.NodeMapping{Address: addrs[i], ID: types.PortID(p)})
	}
	d, err := directory.New(m)
	require.NoError(t, err)
	return d
}

// newTestBridge builds a bridge that is driven by hand: no sockets, no Run.
func newTestBridge(t *testing.T, dir *directory.Directory, mode types.FramingMode, opts Options) (*Bridge, *wirelesstest.Fake, *fakeClock) {
	t.Helper()
	radio := wirelesstest.New(100)
	clock := newFakeClock()
	opts.Mode = mode
	opts.Clock = clock
	b, err := New(dir, radio, opts)
	require.NoError(t, err)
	t.Cleanup(b.shutdown)
	return b, radio, clock
}

// attach installs a client on l through an in-memory pipe and returns the
// bridge side connection.
func attach(t *testing.T, b *Bridge, l *listener) *Connection {
	t.Helper()
	c, _ := attachPipe(t, b, l)
	return c
}

// attachPipe is attach that also hands back the client's end of the pipe.
func attachPipe(t *testing.T, b *Bridge, l *listener) (*Connection, net.Conn) {
	t.Helper()
	server, client := net.Pipe()
	t.Cleanup(func() { client.Close() })
	b.accept(l, server, b.clock.Now())
	require.NotNil(t, l.occupant)
	return l.occupant, client
}

func outStrings(c *Connection) []string {
	out := make([]string, len(c.tcpOut))
	for i, u := range c.tcpOut {
		out[i] = string(u)
	}
	return out
}

// startBridge runs a bridge on loopback with the real clock.
func startBridge(t *testing.T, dir *directory.Directory, radio *wirelesstest.Fake, opts Options) (*Bridge, <-chan error, context.CancelFunc) {
	t.Helper()
	if opts.Tick == 0 {
		opts.Tick = 5 * time.Millisecond
	}
	if opts.Debounce == 0 {
		opts.Debounce = 20 * time.Millisecond
	}
	b, err := New(dir, radio, opts)
	require.NoError(t, err)
	require.NoError(t, b.Listen())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- b.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-b.Done()
	})
	return b, errc, cancel
}

func dial(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	require.NotNil(t, addr)
	conn, err := net.DialTimeout("tcp", addr.String(), time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readUntil reads from conn until the accumulated text contains want.
func readUntil(t *testing.T, conn net.Conn, want string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var sb strings.Builder
	buf := make([]byte, 1024)
	for !strings.Contains(sb.String(), want) {
		n, err := conn.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			require.Containsf(t, sb.String(), want, "read stopped: %v", err)
			break
		}
	}
	return sb.String()
}

// expectEOF waits for the bridge to close conn.
func expectEOF(t *testing.T, conn net.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	buf := make([]byte, 256)
	for {
		_, err := conn.Read(buf)
		if err != nil {
			require.ErrorIs(t, err, io.EOF)
			return
		}
	}
}

func freePorts(t *testing.T, n int) []int {
	t.Helper()
	var ports []int
	var lns []net.Listener
	for i := 0; i < n; i++ {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		require.NoError(t, err)
		lns = append(lns, ln)
		ports = append(ports, ln.Addr().(*net.TCPAddr).Port)
	}
	for _, ln := range lns {
		ln.Close()
	}
	return ports
}

func endpointStatus(b *Bridge, name string) types.EndpointStatus {
	for _, ep := range b.Snapshot().Endpoints {
		if ep.Endpoint == name {
			return ep
		}
	}
	return types.EndpointStatus{}
}

// testContext stands in for testing.T.Context (Go 1.24+): a context that is
// canceled when the test finishes.
func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return ctx
}
