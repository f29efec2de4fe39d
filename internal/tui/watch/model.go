package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/table"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/fwup/internal/api"
	"github.com/mattjoyce/fwup/internal/events"
	"github.com/mattjoyce/fwup/internal/ipset"
)

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	client *api.Client

	width  int
	height int

	daemon      DaemonState
	sets        []ipset.Set
	eventLog    []events.Event
	lastEventID int64

	activity Activity
	spinner  spinner.Model
	table    table.Model
	theme    Theme

	hubEvents chan events.Event
	lastError string

	lastStatusPoll time.Time
	lastSetsPoll   time.Time
}

// New creates a new watch TUI model.
func New(client *api.Client) *Model {
	return &Model{
		client:    client,
		eventLog:  make([]events.Event, 0, maxEventLog),
		hubEvents: make(chan events.Event, 100),
		activity:  NewActivity(),
		spinner:   spinner.New(spinner.WithSpinner(spinner.Dot)),
		table:     newSetsTable(),
		theme:     NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		subscribeToEvents(m.client, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		m.spinner.Tick,
		tick(),
		tea.EnterAltScreen,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			m.lastSetsPoll = time.Now()
			return m, func() tea.Msg { return fetchSets(m.client) }
		}
		var cmd tea.Cmd
		m.table, cmd = m.table.Update(msg)
		return m, cmd

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.table.SetWidth(m.width - 8)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case tickMsg:
		m.activity.Decay()
		now := time.Time(msg)
		cmds := []tea.Cmd{tick()}
		if now.Sub(m.lastStatusPoll) >= statusInterval {
			m.lastStatusPoll = now
			cmds = append(cmds, func() tea.Msg { return fetchStatus(m.client) })
		}
		if now.Sub(m.lastSetsPoll) >= setsInterval {
			m.lastSetsPoll = now
			cmds = append(cmds, func() tea.Msg { return fetchSets(m.client) })
		}
		return m, tea.Batch(cmds...)

	case eventMsg:
		e := events.Event(msg)

		// Newest first.
		m.eventLog = append([]events.Event{e}, m.eventLog...)
		if len(m.eventLog) > maxEventLog {
			m.eventLog = m.eventLog[:maxEventLog]
		}
		if e.ID > m.lastEventID {
			m.lastEventID = e.ID
		}
		m.activity.OnEvent()
		m.daemon.Connected = true
		m.lastError = ""

		cmds := []tea.Cmd{receiveNextEvent(m.hubEvents)}
		if setsChanged(e) {
			m.lastSetsPoll = time.Now()
			cmds = append(cmds, func() tea.Msg { return fetchSets(m.client) })
		}
		return m, tea.Batch(cmds...)

	case statusMsg:
		m.daemon.Status = api.StatusResponse(msg)
		m.daemon.Connected = true
		m.daemon.LastCheck = time.Now()
		m.lastError = ""

	case setsMsg:
		m.sets = []ipset.Set(msg)
		m.table.SetRows(setRows(m.sets))

	case sseDisconnectedMsg:
		m.daemon.Connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		// The pending receiveNextEvent keeps waiting on the channel and
		// picks up events from the new subscription.
		return m, tea.Tick(3*time.Second, func(time.Time) tea.Msg {
			return reconnectMsg{}
		})

	case reconnectMsg:
		return m, subscribeToEvents(m.client, m.lastEventID, m.hubEvents)

	case errMsg:
		m.daemon.Connected = false
		m.lastError = msg.Error()
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to fwup..."
	}

	header := renderHeader(m.daemon, m.spinner, m.activity, m.theme, m.width)
	sets := renderSets(m.table, len(m.sets), m.theme, m.width)
	eventRows := m.height - lipgloss.Height(header) - lipgloss.Height(sets) - 8
	if eventRows < 3 {
		eventRows = 3
	}
	eventStream := renderEventStream(m.eventLog, m.theme, m.width, eventRows)

	parts := []string{header, sets, eventStream}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusBroken.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [↑/↓] Scroll sets • [r] Refresh sets"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
