package tui

import (
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
)

type tickMsg time.Time
type logMsg string
type bridgeStoppedMsg struct{}
type kickResultMsg struct {
	endpoint string
	err      error
}
type editorFinishedMsg struct{ err error }

func tick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func waitForLog(src LogSource) tea.Cmd {
	if src == nil {
		return nil
	}
	return func() tea.Msg {
		line, ok := <-src.Chan()
		if !ok {
			return nil
		}
		return logMsg(line)
	}
}

func waitForStop(b Bridge) tea.Cmd {
	if b == nil {
		return nil
	}
	return func() tea.Msg {
		<-b.Done()
		return bridgeStoppedMsg{}
	}
}

func kick(b Bridge, endpoint string) tea.Cmd {
	return func() tea.Msg {
		return kickResultMsg{endpoint: endpoint, err: b.Kick(endpoint)}
	}
}

func editorCommand(path string) *exec.Cmd {
	editor := os.Getenv("EDITOR")
	if editor == "" {
		editor = "nano"
	}
	return exec.Command(editor, path)
}

// openInEditor copies content to a temp file and opens it.
func openInEditor(content string) tea.Cmd {
	f, err := os.CreateTemp("", "xbridge-logs-*.log")
	if err != nil {
		return func() tea.Msg { return editorFinishedMsg{err} }
	}
	if _, err := f.WriteString(content); err != nil {
		f.Close()
		return func() tea.Msg { return editorFinishedMsg{err} }
	}
	f.Close()
	tempPath := f.Name()

	return tea.ExecProcess(editorCommand(tempPath), func(err error) tea.Msg {
		os.Remove(tempPath)
		return editorFinishedMsg{err}
	})
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.resize()
		return m, nil

	case tickMsg:
		if m.bridge != nil {
			m.setSnapshot(m.bridge.Snapshot())
		}
		return m, tick()

	case logMsg:
		if m.logs != nil {
			m.logContent = m.logs.ReadAll()
			m.logViewport.SetContent(m.logContent)
			m.logViewport.GotoBottom()
		}
		return m, waitForLog(m.logs)

	case bridgeStoppedMsg:
		m.stopped = true
		return m, tea.Quit

	case kickResultMsg:
		if msg.err != nil {
			m.status = fmt.Sprintf("kick %s: %v", msg.endpoint, msg.err)
		} else {
			m.status = "kicked client on " + msg.endpoint
		}
		if m.bridge != nil {
			m.setSnapshot(m.bridge.Snapshot())
		}
		return m, nil

	case editorFinishedMsg:
		if msg.err != nil {
			m.status = "editor: " + msg.err.Error()
		}
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c", "q":
			return m, tea.Quit
		case "tab", "shift+tab":
			if m.focus == focusEndpoints {
				m.focus = focusLogs
			} else {
				m.focus = focusEndpoints
			}
			m.resize()
			return m, nil
		case "e":
			if m.focus == focusLogs {
				return m, openInEditor(m.logContent)
			}
			if m.table != "" {
				// Read-only view; the running bridge does not reload its table.
				return m, tea.ExecProcess(editorCommand(m.table), func(err error) tea.Msg {
					return editorFinishedMsg{err}
				})
			}
			return m, nil
		case "x":
			if m.focus != focusEndpoints || m.bridge == nil {
				return m, nil
			}
			if ep, ok := m.selected(); ok {
				return m, kick(m.bridge, ep.Endpoint)
			}
			return m, nil
		case "g":
			if m.focus == focusLogs {
				m.logViewport.GotoTop()
				return m, nil
			}
		case "G":
			if m.focus == focusLogs {
				m.logViewport.GotoBottom()
				return m, nil
			}
		}
	}

	var cmd tea.Cmd
	if m.focus == focusEndpoints {
		m.endpoints, cmd = m.endpoints.Update(msg)
	} else {
		m.logViewport, cmd = m.logViewport.Update(msg)
	}
	return m, cmd
}

// resize recomputes panel sizes; View uses the same arithmetic.
func (m *Model) resize() {
	l := m.layout()
	m.endpoints.SetSize(l.listWidth-4, l.listHeight)
	m.logViewport.Width = l.rightWidth - 7
	m.logViewport.Height = l.logsContentHeight
}

func newEndpointList(items []list.Item) list.Model {
	l := list.New(items, endpointsDelegate{}, defaultListWidth, 10)
	l.SetShowHelp(false)
	l.SetShowTitle(false)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	return l
}
