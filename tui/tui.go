// Package tui is the terminal monitor for a running bridge.
package tui

import (
	"time"

	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/samaelod/xbridge/types"
)

const refreshInterval = 500 * time.Millisecond

// Bridge is the part of the engine the monitor drives.
type Bridge interface {
	Snapshot() types.Snapshot
	Kick(endpoint string) error
	Done() <-chan struct{}
}

// LogSource feeds the log panel.
type LogSource interface {
	ReadAll() string
	Chan() <-chan string
}

type Options struct {
	Version string
	Table   string
	Bridge  Bridge
	Logs    LogSource
}

func New(opts Options) Model {
	m := Model{
		bridge:      opts.Bridge,
		logs:        opts.Logs,
		version:     opts.Version,
		table:       opts.Table,
		endpoints:   newEndpointList(nil),
		logViewport: viewport.New(10, 10),
	}
	m.logViewport.SetContent("Waiting for bridge logs...")
	if opts.Bridge != nil {
		m.setSnapshot(opts.Bridge.Snapshot())
	}
	return m
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(), waitForLog(m.logs), waitForStop(m.bridge))
}

// Run blocks until the user quits or the bridge stops.
func Run(opts Options) error {
	p := tea.NewProgram(New(opts), tea.WithAltScreen())
	_, err := p.Run()
	return err
}
