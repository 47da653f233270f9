package tui

import (
	"errors"
	"sync"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/samaelod/xbridge/types"
)

type fakeBridge struct {
	mu     sync.Mutex
	snap   types.Snapshot
	kicked []string
	done   chan struct{}
}

func (f *fakeBridge) Snapshot() types.Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snap
}

func (f *fakeBridge) Kick(endpoint string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.kicked = append(f.kicked, endpoint)
	if endpoint == "mux" {
		return nil
	}
	return errors.New("no client connected")
}

func (f *fakeBridge) Done() <-chan struct{} { return f.done }

type fakeLogs struct{ ch chan string }

func (l fakeLogs) ReadAll() string      { return "[12:00:00] INFO  bridge: bridge running\n" }
func (l fakeLogs) Chan() <-chan string { return l.ch }

func newFakeBridge() *fakeBridge {
	return &fakeBridge{
		done: make(chan struct{}),
		snap: types.Snapshot{
			Mode: "multiplexed",
			MTU:  72,
			Endpoints: []types.EndpointStatus{
				{Endpoint: "mux", Listen: "0.0.0.0:20000", Connected: true, Remote: "10.0.0.5:5123", QueuedOut: 2},
				{Endpoint: "admin", Listen: "0.0.0.0:30000"},
			},
			Counters: types.Counters{Accepted: 3, RadioTxFrames: 7},
		},
	}
}

func update(t *testing.T, m Model, msg tea.Msg) (Model, tea.Cmd) {
	t.Helper()
	next, cmd := m.Update(msg)
	out, ok := next.(Model)
	require.True(t, ok)
	return out, cmd
}

func key(s string) tea.KeyMsg {
	if s == "tab" {
		return tea.KeyMsg{Type: tea.KeyTab}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func TestModel_ViewShowsEndpoints(t *testing.T) {
	m := New(Options{Version: "test", Bridge: newFakeBridge()})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})

	view := m.View()
	assert.Contains(t, view, "XBRIDGE test")
	assert.Contains(t, view, "mux")
	assert.Contains(t, view, "admin")
	assert.Contains(t, view, "10.0.0.5:5123")
}

func TestModel_TooSmall(t *testing.T) {
	m := New(Options{Bridge: newFakeBridge()})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 40, Height: 10})
	assert.Contains(t, m.View(), "too small")
}

func TestModel_KickSelected(t *testing.T) {
	b := newFakeBridge()
	m := New(Options{Bridge: b})
	m, _ = update(t, m, tea.WindowSizeMsg{Width: 140, Height: 40})

	m, cmd := update(t, m, key("x"))
	require.NotNil(t, cmd)
	m, _ = update(t, m, cmd())
	assert.Equal(t, []string{"mux"}, b.kicked)
	assert.Equal(t, "kicked client on mux", m.status)
}

func TestModel_KickIgnoredWhenLogsFocused(t *testing.T) {
	b := newFakeBridge()
	m := New(Options{Bridge: b})
	m, _ = update(t, m, key("tab"))
	assert.Equal(t, focusLogs, m.focus)

	_, cmd := update(t, m, key("x"))
	if cmd != nil {
		cmd()
	}
	assert.Empty(t, b.kicked)
}

func TestModel_LogsAndStop(t *testing.T) {
	logs := fakeLogs{ch: make(chan string, 1)}
	m := New(Options{Bridge: newFakeBridge(), Logs: logs})

	m, cmd := update(t, m, logMsg("line"))
	assert.Contains(t, m.logContent, "bridge running")
	assert.NotNil(t, cmd)

	m, cmd = update(t, m, bridgeStoppedMsg{})
	assert.True(t, m.stopped)
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestModel_TickRefreshesSnapshot(t *testing.T) {
	b := newFakeBridge()
	m := New(Options{Bridge: b})

	b.mu.Lock()
	b.snap.Endpoints = b.snap.Endpoints[:1]
	b.snap.Counters.Accepted = 9
	b.mu.Unlock()

	m, cmd := update(t, m, tickMsg{})
	assert.NotNil(t, cmd)
	assert.Len(t, m.endpoints.Items(), 1)
	assert.Equal(t, uint64(9), m.snap.Counters.Accepted)
}
