package tui

import (
	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"

	"github.com/samaelod/xbridge/types"
)

type focus int

const (
	focusEndpoints focus = iota
	focusLogs
)

type Model struct {
	bridge Bridge
	logs   LogSource

	snap      types.Snapshot
	endpoints list.Model
	focus     focus

	logViewport viewport.Model
	logContent  string

	// status is the result of the last user action, shown in the footer.
	status  string
	stopped bool

	width   int
	height  int
	version string
	table   string
}

const (
	minWindowWidth   = 80
	minWindowHeight  = 20
	defaultListWidth = 30
	minListWidth     = 20
	footerHeight     = 3
)

// setSnapshot refreshes the endpoint list, keeping the cursor where it was.
func (m *Model) setSnapshot(s types.Snapshot) {
	m.snap = s
	idx := m.endpoints.Index()
	items := make([]list.Item, 0, len(s.Endpoints))
	for _, ep := range s.Endpoints {
		items = append(items, endpointItem(ep))
	}
	m.endpoints.SetItems(items)
	if idx < len(items) {
		m.endpoints.Select(idx)
	}
}

func (m Model) selected() (types.EndpointStatus, bool) {
	ep, ok := m.endpoints.SelectedItem().(endpointItem)
	return types.EndpointStatus(ep), ok
}
