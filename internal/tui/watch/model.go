// Package watch is a live TUI dashboard over the billing event stream and
// the purchase ledger.
package watch

import (
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/marcus/playbill/internal/billing"
	"github.com/marcus/playbill/internal/db"
)

// Panel represents which panel is active
type Panel int

const (
	PanelOwned Panel = iota
	PanelEvents
	PanelHistory
)

// FeedItem is one rendered entry of the live event feed.
type FeedItem struct {
	Timestamp time.Time
	Line      string
}

// MinWidth is the minimum terminal width for proper display
const MinWidth = 40

// MinHeight is the minimum terminal height for proper display
const MinHeight = 12

// maxFeedItems caps the in-memory event feed.
const maxFeedItems = 200

// TickMsg triggers a ledger refresh
type TickMsg time.Time

// EventMsg wraps a billing event for the update loop
type EventMsg struct {
	Event billing.Event
}

// eventsClosedMsg signals the billing service shut down the event stream
type eventsClosedMsg struct{}

// Model is the main Bubble Tea model for the watch TUI
type Model struct {
	DB      *db.DB
	Service *billing.Service

	Width  int
	Height int

	Connected bool
	Supported *bool // nil until the market has answered

	Owned   []ownedRow
	History []historyRow
	Feed    []FeedItem

	ActivePanel  Panel
	ScrollOffset map[Panel]int
	ShowHelp     bool
	LastRefresh  time.Time
	Err          error

	Spinner         spinner.Model
	RefreshInterval time.Duration
}

// NewModel creates a new watch model
func NewModel(database *db.DB, svc *billing.Service, interval time.Duration) Model {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = spinnerStyle
	return Model{
		DB:              database,
		Service:         svc,
		RefreshInterval: interval,
		ScrollOffset:    make(map[Panel]int),
		ActivePanel:     PanelEvents,
		Spinner:         sp,
	}
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.fetchData(),
		m.scheduleTick(),
		m.waitForEvent(),
		m.Spinner.Tick,
	)
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case tea.WindowSizeMsg:
		m.Width = msg.Width
		m.Height = msg.Height
		return m, nil

	case TickMsg:
		return m, tea.Batch(m.fetchData(), m.scheduleTick())

	case RefreshDataMsg:
		m.Owned = msg.Owned
		m.History = msg.History
		m.Err = msg.Err
		m.LastRefresh = msg.Timestamp
		return m, nil

	case EventMsg:
		m.applyEvent(msg.Event)
		// A state change means the ledger moved; refresh immediately.
		if _, ok := msg.Event.(billing.PurchaseStateChange); ok {
			return m, tea.Batch(m.fetchData(), m.waitForEvent())
		}
		return m, m.waitForEvent()

	case eventsClosedMsg:
		return m, tea.Quit

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.Spinner, cmd = m.Spinner.Update(msg)
		return m, cmd
	}

	return m, nil
}

// handleKey processes key input
func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		return m, tea.Quit

	case "tab":
		m.ActivePanel = (m.ActivePanel + 1) % 3
		return m, nil

	case "shift+tab":
		m.ActivePanel = (m.ActivePanel + 2) % 3
		return m, nil

	case "1":
		m.ActivePanel = PanelOwned
		return m, nil

	case "2":
		m.ActivePanel = PanelEvents
		return m, nil

	case "3":
		m.ActivePanel = PanelHistory
		return m, nil

	case "j", "down":
		m.ScrollOffset[m.ActivePanel]++
		return m, nil

	case "k", "up":
		if m.ScrollOffset[m.ActivePanel] > 0 {
			m.ScrollOffset[m.ActivePanel]--
		}
		return m, nil

	case "r":
		return m, m.fetchData()

	case "?":
		m.ShowHelp = !m.ShowHelp
		return m, nil
	}

	return m, nil
}

// View implements tea.Model
func (m Model) View() string {
	return m.renderView()
}

// scheduleTick returns a command that sends a TickMsg after the refresh interval
func (m Model) scheduleTick() tea.Cmd {
	return tea.Tick(m.RefreshInterval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// fetchData returns a command that reads the ledger and sends a RefreshDataMsg
func (m Model) fetchData() tea.Cmd {
	return func() tea.Msg {
		return FetchData(m.DB)
	}
}

// waitForEvent blocks on the billing event stream for the next event
func (m Model) waitForEvent() tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-m.Service.Events()
		if !ok {
			return eventsClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}
