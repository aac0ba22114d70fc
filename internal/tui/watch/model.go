package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/shopworker/internal/api"
	"github.com/mattjoyce/shopworker/internal/events"
)

const (
	healthEvery    = 2 * time.Second
	reconnectDelay = 3 * time.Second
)

// Model is the BubbleTea model for the watch view.
type Model struct {
	apiURL string

	width  int
	height int

	state     *PoolState
	connected bool
	lastError string
	pulse     pulse

	tasks  table.Model
	stream viewport.Model
	theme  Theme

	hubEvents chan events.Event
}

func New(apiURL string) Model {
	t := table.New(
		table.WithColumns(taskColumns(80)),
		table.WithFocused(true),
		table.WithHeight(10),
	)
	s := table.DefaultStyles()
	s.Header = s.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("240")).
		BorderBottom(true).
		Bold(false)
	s.Selected = s.Selected.
		Foreground(lipgloss.Color("229")).
		Background(lipgloss.Color("57")).
		Bold(false)
	t.SetStyles(s)

	return Model{
		apiURL:    apiURL,
		state:     newPoolState(),
		tasks:     t,
		stream:    viewport.New(80, 8),
		theme:     NewDefaultTheme(),
		hubEvents: make(chan events.Event, 100),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		streamEvents(m.apiURL, 0, m.hubEvents),
		receiveNextEvent(m.hubEvents),
		func() tea.Msg { return fetchHealth(m.apiURL) },
		tick(),
	)
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.stream, cmd = m.stream.Update(msg)
			return m, cmd
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		inner := max(m.width-8, 20)
		m.tasks.SetColumns(taskColumns(inner))
		m.tasks.SetWidth(inner)
		m.tasks.SetHeight(max(m.height/3, 5))
		m.stream.Width = inner
		m.stream.Height = max(m.height/4, 4)
		m.refresh()
		return m, nil

	case tickMsg:
		return m, tick()

	case eventMsg:
		m.state.ApplyEvent(events.Event(msg))
		m.pulse.hit(time.Now())
		m.connected = true
		m.lastError = ""
		m.refresh()
		return m, receiveNextEvent(m.hubEvents)

	case healthMsg:
		m.state.ApplyHealth(api.HealthzResponse(msg))
		m.connected = true
		m.lastError = ""
		m.refresh()
		return m, tea.Tick(healthEvery, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })

	case streamClosedMsg:
		m.connected = false
		m.lastError = "event stream disconnected, reconnecting..."
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		// The pending receiveNextEvent keeps reading the same channel.
		return m, streamEvents(m.apiURL, m.state.LastEventID, m.hubEvents)

	case errMsg:
		m.lastError = msg.Error()
		return m, tea.Tick(healthEvery, func(time.Time) tea.Msg { return fetchHealth(m.apiURL) })
	}

	var cmd tea.Cmd
	m.tasks, cmd = m.tasks.Update(msg)
	return m, cmd
}

// refresh pushes state into the table and viewport components.
func (m *Model) refresh() {
	m.tasks.SetRows(taskRows(m.state.RecentTasks()))
	m.stream.SetContent(renderEventLines(m.state.Events, m.theme))
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to shopworker..."
	}
	inner := m.width - 4

	header := renderHeader(m.state, m.connected, m.pulse, m.theme, inner)
	workers := renderWorkers(m.state, m.theme, inner)
	tasks := m.theme.Border.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("RECENT TASKS"), m.tasks.View()))
	stream := m.theme.Border.Width(inner).Render(
		lipgloss.JoinVertical(lipgloss.Left, m.theme.Title.Render("EVENT STREAM"), m.stream.View()))

	parts := []string{header, workers, tasks, stream}
	if m.lastError != "" {
		parts = append(parts, m.theme.Failed.Render(fmt.Sprintf(" ! %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] quit  [up/down] tasks  [pgup/pgdown] events"))

	return lipgloss.NewStyle().Margin(1, 2).Render(lipgloss.JoinVertical(lipgloss.Left, parts...))
}
