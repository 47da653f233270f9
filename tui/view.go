package tui

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	units "github.com/docker/go-units"

	"github.com/samaelod/xbridge/types"
)

type endpointItem types.EndpointStatus

func (e endpointItem) Title() string {
	if e.Connected {
		return "● " + e.Endpoint
	}
	return "○ " + e.Endpoint
}
func (e endpointItem) Description() string { return e.Listen }
func (e endpointItem) FilterValue() string { return e.Endpoint }

type endpointsDelegate struct{}

func (d endpointsDelegate) Height() int                               { return 1 }
func (d endpointsDelegate) Spacing() int                              { return 0 }
func (d endpointsDelegate) Update(msg tea.Msg, m *list.Model) tea.Cmd { return nil }
func (d endpointsDelegate) Render(w io.Writer, m list.Model, index int, listItem list.Item) {
	i, ok := listItem.(endpointItem)
	if !ok {
		return
	}

	str := i.Title()
	if i.QueuedOut > 0 {
		str += fmt.Sprintf(" (%d)", i.QueuedOut)
	}
	if index == m.Index() {
		fmt.Fprint(w, styleSelected.Render("> "+str))
		return
	}
	style := lipgloss.NewStyle().Foreground(colorText)
	if i.Connected {
		style = style.Foreground(colorSuccess)
	}
	fmt.Fprint(w, style.Render("  "+str))
}

func renderScrollbar(vp viewport.Model, height int) string {
	total := vp.TotalLineCount()
	visible := vp.VisibleLineCount()
	if total <= visible {
		return ""
	}

	trackHeight := height
	if trackHeight < 1 {
		trackHeight = visible
	}
	thumbPos := int(float64(trackHeight-1) * vp.ScrollPercent())
	thumbPos = max(0, min(thumbPos, trackHeight-1))

	var sb strings.Builder
	for i := 0; i < trackHeight; i++ {
		if i == thumbPos {
			sb.WriteString(scrollbarThumb.Render("█"))
		} else {
			sb.WriteString(scrollbarTrack.Render("│"))
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

type layout struct {
	windowWidth, windowHeight int
	listWidth, listHeight     int
	rightWidth                int
	detailsHeight, logsHeight int
	logsContentHeight         int
}

func (m Model) layout() layout {
	l := layout{windowWidth: m.width - 4, windowHeight: m.height - 4}
	availHeight := l.windowHeight - 1 - footerHeight

	l.listWidth = defaultListWidth
	if l.listWidth > l.windowWidth/3 {
		l.listWidth = l.windowWidth / 3
	}
	if l.listWidth < minListWidth {
		l.listWidth = minListWidth
	}
	l.rightWidth = max(0, l.windowWidth-l.listWidth)
	l.listHeight = max(1, availHeight-4)

	if m.focus == focusLogs {
		l.logsHeight = availHeight * 70 / 100
	} else {
		l.logsHeight = availHeight * 40 / 100
	}
	l.detailsHeight = availHeight - l.logsHeight
	if l.detailsHeight < 10 {
		l.detailsHeight = 10
		l.logsHeight = availHeight - l.detailsHeight
	}
	l.logsContentHeight = max(2, l.logsHeight-6)
	return l
}

func (m Model) View() string {
	l := m.layout()
	if l.windowWidth < minWindowWidth || l.windowHeight < minWindowHeight {
		return styleScreenTooSmall.
			Width(m.width).
			Height(m.height).
			Render("Terminal window is too small.\nPlease resize.")
	}

	title := fmt.Sprintf("XBRIDGE %s  %s  mtu %d", m.version, m.snap.Mode, m.snap.MTU)
	if m.stopped {
		title += "  (stopped)"
	}
	appTitle := styleAppTitle.Width(l.windowWidth).Render(title)

	// Left: endpoints
	listBorder := colorSubtext
	if m.focus == focusEndpoints {
		listBorder = colorSecondary
	}
	listPanel := stylePanelTitled.
		BorderForeground(listBorder).
		Width(l.listWidth - 4).
		Height(l.listHeight + 2).
		Render(styleTitle.MarginBottom(1).Render("Endpoints") + "\n" + m.endpoints.View())

	// Right top: selected endpoint and counters
	detailsBorder := colorSubtext
	if ep, ok := m.selected(); ok && ep.Connected {
		detailsBorder = colorSuccess
	}
	details := styleTitle.MarginBottom(1).Render("Details") + "\n" +
		renderDetails(m, l.rightWidth-4, max(4, l.detailsHeight-3))
	rightTop := stylePanelTitled.
		BorderForeground(detailsBorder).
		Width(l.rightWidth).
		Height(l.detailsHeight).
		Render(details)

	// Right bottom: logs
	logsBorder := colorSubtext
	if m.focus == focusLogs {
		logsBorder = colorSecondary
	}
	vp := m.logViewport
	vp.Width = l.rightWidth - 7
	vp.Height = l.logsContentHeight
	scrollbar := scrollbarTrack.Width(1).Render(renderScrollbar(vp, l.logsContentHeight))
	logs := styleTitle.MarginBottom(1).Render("Logs") + "\n" +
		lipgloss.JoinHorizontal(lipgloss.Top, vp.View(), scrollbar)
	rightBottom := stylePanelTitled.
		BorderForeground(logsBorder).
		Width(l.rightWidth).
		Height(l.logsHeight - 2).
		Render(logs)

	topArea := lipgloss.JoinHorizontal(lipgloss.Top,
		listPanel,
		lipgloss.JoinVertical(lipgloss.Top, rightTop, rightBottom),
	)

	footerView := styleFooter.Width(l.windowWidth - 2).Render(m.footer())

	content := lipgloss.JoinVertical(lipgloss.Top, appTitle, topArea, footerView)
	return styleWindow.
		Width(m.width - 2).
		Height(m.height - 2).
		Render(content)
}

func (m Model) footer() string {
	key := func(k, desc string) string {
		return styleKey.Render(k) + styleSubtext.Render(" "+desc)
	}
	sep := styleSubtext.Render(" • ")

	var hints []string
	if m.focus == focusEndpoints {
		hints = []string{key("<tab>", "logs"), key("x", "kick client"), key("e", "view table"), key("q", "quit")}
	} else {
		hints = []string{key("<tab>", "endpoints"), key("e", "editor"), key("g", "top"), key("G", "bottom"), key("q", "quit")}
	}
	out := strings.Join(hints, sep)
	if m.status != "" {
		out += sep + styleValue.Render(m.status)
	}
	return out
}

func renderDetails(m Model, width, height int) string {
	valueMaxWidth := max(5, width-2-styleLabel.GetWidth()-1)
	row := func(label, value string) string {
		if len(value) > valueMaxWidth {
			value = value[:valueMaxWidth-1] + "…"
		}
		return lipgloss.JoinHorizontal(lipgloss.Left, styleLabel.Render(label), styleValue.Render(value))
	}

	var rows []string
	if ep, ok := m.selected(); ok {
		rows = append(rows,
			row("Listen:", ep.Listen),
		)
		if ep.Node != "" {
			rows = append(rows, row("Node:", ep.Node))
		}
		if ep.Connected {
			rows = append(rows,
				row("Client:", ep.Remote),
				row("Conn:", ep.ConnID),
				row("State:", ep.State),
				row("Queued:", fmt.Sprintf("%d entries, %s", ep.QueuedOut, units.BytesSize(float64(ep.QueuedBytes)))),
				row("Pending:", units.BytesSize(float64(ep.PendingIn))),
				row("Active:", units.HumanDuration(time.Since(ep.LastActivity))+" ago"),
			)
		} else {
			rows = append(rows, row("Client:", styleSubtext.Render("none")))
		}
	} else {
		rows = append(rows, styleSubtext.Render("No endpoint selected"))
	}

	c := m.snap.Counters
	rows = append(rows,
		styleSection.Render("Totals"),
		row("Clients:", fmt.Sprintf("%d accepted, %d closed", c.Accepted, c.Closed)),
		row("Radio TX:", fmt.Sprintf("%d frames, %s", c.RadioTxFrames, units.BytesSize(float64(c.RadioTxBytes)))),
		row("Radio RX:", fmt.Sprintf("%d frames, %s", c.RadioRxFrames, units.BytesSize(float64(c.RadioRxBytes)))),
		row("Errors:", fmt.Sprintf("%d radio, %d dropped", c.RadioErrors, c.Dropped)),
	)

	lines := strings.Split(lipgloss.JoinVertical(lipgloss.Left, rows...), "\n")
	for len(lines) < height {
		lines = append(lines, "")
	}
	if len(lines) > height {
		lines = lines[:height]
	}
	return strings.Join(lines, "\n")
}
