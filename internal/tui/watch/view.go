package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/x/ansi"
)

// renderView renders the complete TUI view
func (m Model) renderView() string {
	if m.Width == 0 || m.Height == 0 {
		return "Loading..."
	}

	if m.Width < MinWidth || m.Height < MinHeight {
		return m.renderCompact()
	}

	if m.ShowHelp {
		return m.renderHelp()
	}

	// Three stacked panels plus a footer line
	availableHeight := m.Height - 3
	panelHeight := availableHeight / 3

	owned := m.renderOwnedPanel(panelHeight)
	events := m.renderEventsPanel(panelHeight)
	history := m.renderHistoryPanel(panelHeight)

	panels := lipgloss.JoinVertical(lipgloss.Left, owned, events, history)
	return lipgloss.JoinVertical(lipgloss.Left, panels, m.renderFooter())
}

// renderCompact renders a minimal view for small terminals
func (m Model) renderCompact() string {
	var s strings.Builder

	s.WriteString("playbill watch (resize for full view)\n\n")
	s.WriteString(fmt.Sprintf("%s\n", m.connectionLine()))
	s.WriteString(fmt.Sprintf("Owned: %d | Events: %d\n", len(m.Owned), len(m.Feed)))
	s.WriteString("\nq:quit r:refresh ?:help")

	return s.String()
}

func (m Model) renderHelp() string {
	help := `playbill watch

  Tab/Shift+Tab  Switch panels
  1/2/3          Jump to panel
  j/k, ↑/↓       Scroll active panel
  r              Force refresh
  ?              Toggle this help
  q              Quit

Press ? to return.`
	return helpStyle.Render(help)
}

// renderOwnedPanel renders the ownership projection (Panel 1)
func (m Model) renderOwnedPanel(height int) string {
	var content strings.Builder

	if len(m.Owned) == 0 {
		content.WriteString(subtleStyle.Render("Nothing owned"))
		content.WriteString("\n")
	}
	for _, row := range m.visibleRange(PanelOwned, len(m.Owned), height) {
		item := m.Owned[row]
		content.WriteString(fmt.Sprintf("%s  %s\n",
			titleStyle.Render(item.ProductID),
			subtleStyle.Render(fmt.Sprintf("x%d", item.Quantity))))
	}

	return m.wrapPanel("OWNED", content.String(), height, PanelOwned)
}

// renderEventsPanel renders the live event feed (Panel 2), newest last
func (m Model) renderEventsPanel(height int) string {
	var content strings.Builder

	if len(m.Feed) == 0 {
		content.WriteString(subtleStyle.Render("Waiting for billing events..."))
		content.WriteString("\n")
	}

	// Tail the feed so the newest events stay visible.
	visible := height - 3
	if visible < 1 {
		visible = 1
	}
	feed := m.Feed
	if len(feed) > visible {
		feed = feed[len(feed)-visible:]
	}
	for _, item := range feed {
		content.WriteString(fmt.Sprintf("%s %s\n",
			timestampStyle.Render(item.Timestamp.Format("15:04:05")),
			item.Line))
	}

	return m.wrapPanel("EVENTS", content.String(), height, PanelEvents)
}

// renderHistoryPanel renders the recent ledger rows (Panel 3)
func (m Model) renderHistoryPanel(height int) string {
	var content strings.Builder

	if len(m.History) == 0 {
		content.WriteString(subtleStyle.Render("No purchases recorded"))
		content.WriteString("\n")
	}
	for _, row := range m.visibleRange(PanelHistory, len(m.History), height) {
		e := m.History[row]
		content.WriteString(fmt.Sprintf("%s  %s  %s  %s\n",
			timestampStyle.Render(fmtMillis(e.PurchaseTime)),
			titleStyle.Render(e.ProductID),
			formatState(e.State),
			subtleStyle.Render(e.OrderID)))
	}

	return m.wrapPanel("HISTORY", content.String(), height, PanelHistory)
}

func (m Model) renderFooter() string {
	status := m.connectionLine()
	keys := helpStyle.Render("tab:panels  j/k:scroll  r:refresh  ?:help  q:quit")
	refreshed := ""
	if !m.LastRefresh.IsZero() {
		refreshed = subtleStyle.Render("  refreshed " + m.LastRefresh.Format("15:04:05"))
	}
	if m.Err != nil {
		refreshed = lipgloss.NewStyle().Foreground(errorColor).Render(fmt.Sprintf("  error: %v", m.Err))
	}
	return ansi.Truncate(status+refreshed+"  "+keys, m.Width, "…")
}

func (m Model) connectionLine() string {
	if !m.Connected {
		return disconnectedStyle.Render(m.Spinner.View() + "connecting")
	}
	line := connectedStyle.Render("● connected")
	if m.Supported != nil && !*m.Supported {
		line += " " + disconnectedStyle.Render("(billing unsupported)")
	}
	return line
}

// visibleRange applies the panel's scroll offset and returns the indices to
// render.
func (m Model) visibleRange(panel Panel, total, height int) []int {
	visible := height - 3
	if visible < 1 {
		visible = 1
	}
	offset := m.ScrollOffset[panel]
	if offset > total-1 {
		offset = max(0, total-1)
	}
	end := offset + visible
	if end > total {
		end = total
	}
	rows := make([]int, 0, end-offset)
	for i := offset; i < end; i++ {
		rows = append(rows, i)
	}
	return rows
}

// wrapPanel draws the panel border, title and truncates content to width
func (m Model) wrapPanel(title, content string, height int, panel Panel) string {
	style := panelStyle
	if m.ActivePanel == panel {
		style = activePanelStyle
	}

	innerWidth := m.Width - 4
	var lines []string
	for _, line := range strings.Split(strings.TrimRight(content, "\n"), "\n") {
		lines = append(lines, ansi.Truncate(line, innerWidth, "…"))
	}

	body := panelTitleStyle.Render(title) + "\n" + strings.Join(lines, "\n")
	return style.Width(m.Width - 2).Height(height - 2).Render(body)
}

func fmtMillis(millis int64) string {
	return time.UnixMilli(millis).Local().Format("01-02 15:04")
}
