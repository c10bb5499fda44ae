// Package tui is the live slot monitor behind `commcore watch`.
package tui

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/commcore/internal/api"
	"github.com/mattjoyce/commcore/internal/comm"
	"github.com/mattjoyce/commcore/internal/events"
)

var (
	docStyle = lipgloss.NewStyle().Margin(1, 2)

	borderStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD"))

	statusOK      = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00"))
	statusRunning = lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00"))
	statusFailed  = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000"))
	statusQueued  = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	dimStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1)
)

const (
	pollInterval   = 2 * time.Second
	reconnectDelay = 2 * time.Second
	eventLogSize   = 50
)

type (
	eventMsg           events.Event
	slotsMsg           api.SlotsResponse
	healthMsg          api.HealthzResponse
	pollMsg            struct{}
	sseDisconnectedMsg struct{ err error }
	reconnectMsg       struct{}
	errMsg             struct {
		err  error
		poll bool
	}
)

// Model is the bubbletea model for the slot monitor.
type Model struct {
	ctx    context.Context
	client *api.Client

	width  int
	height int

	health    api.HealthzResponse
	slots     table.Model
	log       viewport.Model
	eventLog  []events.Event
	lastID    int64
	hubEvents chan events.Event
	connected bool
	lastError string
}

// NewMonitor builds a monitor polling and streaming from c.
func NewMonitor(ctx context.Context, c *api.Client) *Model {
	t := table.New(
		table.WithColumns([]table.Column{
			{Title: "ST", Width: 2},
			{Title: "Slot", Width: 4},
			{Title: "Command", Width: 20},
			{Title: "Obj/Act", Width: 8},
			{Title: "Mode", Width: 5},
			{Title: "State", Width: 16},
			{Title: "Elapsed", Width: 10},
			{Title: "Timeout", Width: 10},
		}),
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

	return &Model{
		ctx:       ctx,
		client:    c,
		slots:     t,
		log:       viewport.New(80, 10),
		hubEvents: make(chan events.Event, 100),
	}
}

// Run shows the monitor until the user quits or ctx ends.
func Run(ctx context.Context, c *api.Client) error {
	p := tea.NewProgram(NewMonitor(ctx, c), tea.WithAltScreen(), tea.WithContext(ctx))
	_, err := p.Run()
	return err
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.subscribe(),
		m.receiveNextEvent(),
		m.fetchHealth,
		m.fetchSlots,
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	var cmd tea.Cmd

	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return m, tea.Quit
		case "r":
			return m, tea.Batch(m.fetchHealth, m.fetchSlots)
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.slots.SetWidth(m.width - 6)
		m.log.Width = m.width - 6
		m.log.Height = m.height / 3

	case eventMsg:
		m.connected = true
		m.addEvent(events.Event(msg))
		return m, tea.Batch(m.receiveNextEvent(), m.fetchSlots)

	case slotsMsg:
		m.slots.SetRows(slotRows(api.SlotsResponse(msg)))
		return m, nil

	case healthMsg:
		m.health = api.HealthzResponse(msg)
		m.lastError = ""
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })

	case pollMsg:
		return m, tea.Batch(m.fetchHealth, m.fetchSlots)

	case sseDisconnectedMsg:
		m.connected = false
		if msg.err != nil {
			m.lastError = msg.err.Error()
		}
		return m, tea.Tick(reconnectDelay, func(time.Time) tea.Msg { return reconnectMsg{} })

	case reconnectMsg:
		return m, m.subscribe()

	case errMsg:
		m.lastError = msg.err.Error()
		if !msg.poll {
			return m, nil
		}
		// health failures keep the poll loop alive
		return m, tea.Tick(pollInterval, func(time.Time) tea.Msg { return pollMsg{} })
	}

	m.slots, cmd = m.slots.Update(msg)
	return m, cmd
}

func (m *Model) addEvent(e events.Event) {
	if e.ID > m.lastID {
		m.lastID = e.ID
	}
	m.eventLog = append([]events.Event{e}, m.eventLog...)
	if len(m.eventLog) > eventLogSize {
		m.eventLog = m.eventLog[:eventLogSize]
	}
	m.log.SetContent(renderEvents(m.eventLog))
}

func slotRows(resp api.SlotsResponse) []table.Row {
	rows := make([]table.Row, 0, len(resp.Slots))
	for _, s := range resp.Slots {
		mode := "async"
		if s.Sync {
			mode = "sync"
		}
		elapsed := "-"
		if s.State == comm.StateExecutingSync || s.State == comm.StateExecutingAsync {
			elapsed = strconv.FormatUint(uint64(s.ElapsedTicks), 10)
		}
		timeout := strconv.FormatUint(uint64(s.TimeoutTicks), 10)
		if s.TimeoutTicks == comm.InfiniteTicks {
			timeout = "none"
		}
		name := s.Command
		if name == "" {
			name = "-"
		}
		rows = append(rows, table.Row{
			stateSymbol(s.State),
			strconv.Itoa(s.Index),
			name,
			fmt.Sprintf("%d/%d", s.Object, s.Action),
			mode,
			s.State.String(),
			elapsed,
			timeout,
		})
	}
	return rows
}

func stateSymbol(st comm.State) string {
	switch st {
	case comm.StateWaiting:
		return statusQueued.Render("○")
	case comm.StateExecutingSync, comm.StateExecutingAsync:
		return statusRunning.Render("◉")
	case comm.StateCompleted:
		return statusOK.Render("●")
	default:
		return dimStyle.Render("·")
	}
}

func renderEvents(evs []events.Event) string {
	if len(evs) == 0 {
		return "  No events yet..."
	}
	lines := make([]string, 0, len(evs))
	for _, e := range evs {
		lines = append(lines, formatEvent(e))
	}
	return lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n"))
}

func formatEvent(e events.Event) string {
	var d struct {
		Slot    *int   `json:"slot"`
		Command string `json:"command"`
		Code    uint32 `json:"code"`
		Error   string `json:"error"`
	}
	_ = json.Unmarshal(e.Data, &d)

	typ := strings.TrimPrefix(e.Type, "instruction.")
	switch e.Type {
	case events.TypeFailed, events.TypeTimedOut, events.TypeRejected:
		typ = statusFailed.Render(fmt.Sprintf("%-10s", typ))
	case events.TypeCompleted:
		typ = statusOK.Render(fmt.Sprintf("%-10s", typ))
	default:
		typ = fmt.Sprintf("%-10s", typ)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s | %s", e.At.Format("15:04:05"), typ)
	if d.Slot != nil {
		fmt.Fprintf(&b, " | slot %d", *d.Slot)
	}
	if d.Command != "" {
		fmt.Fprintf(&b, " | %s", d.Command)
	}
	if d.Code != 0 {
		fmt.Fprintf(&b, " | code 0x%08X", d.Code)
	}
	if d.Error != "" {
		fmt.Fprintf(&b, " | %s", d.Error)
	}
	return b.String()
}

func (m Model) View() string {
	if m.width == 0 {
		return "Initializing..."
	}

	slotsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Slots"),
			m.slots.View(),
		),
	)
	eventsView := borderStyle.Width(m.width - 4).Render(
		lipgloss.JoinVertical(lipgloss.Left,
			titleStyle.Render("Event Stream"),
			m.log.View(),
		),
	)

	help := dimStyle.Render(" [q] Quit • [r] Refresh • [↑/↓] Select slot")
	if m.lastError != "" {
		help = statusFailed.Render(" "+m.lastError) + "\n" + help
	}

	return docStyle.Render(lipgloss.JoinVertical(lipgloss.Left,
		m.renderHeader(),
		slotsView,
		eventsView,
		help,
	))
}

func (m Model) renderHeader() string {
	status := statusOK.Render("RUNNING")
	if m.health.Status != "ok" {
		status = statusFailed.Render("UNREACHABLE")
	}
	stream := statusOK.Render("live")
	if !m.connected {
		stream = statusQueued.Render("reconnecting")
	}

	items := []string{
		"Status: " + status,
		"Uptime: " + (time.Duration(m.health.UptimeSeconds) * time.Second).String(),
		fmt.Sprintf("Slots: %d/%d", m.health.Registered, m.health.Capacity),
		fmt.Sprintf("In flight: %d", m.health.InFlight),
		"Events: " + stream,
	}
	if m.health.Stats != nil {
		items = append(items, fmt.Sprintf("Done %d • Failed %d • Timed out %d",
			m.health.Stats.Completed, m.health.Stats.Failed, m.health.Stats.TimedOut))
	}

	w := (m.width - 4) / len(items)
	cells := make([]string, 0, len(items))
	for _, it := range items {
		cells = append(cells, lipgloss.NewStyle().Width(w).Render(it))
	}
	return borderStyle.Width(m.width - 4).Render(lipgloss.JoinHorizontal(lipgloss.Top, cells...))
}

func (m Model) subscribe() tea.Cmd {
	lastID := m.lastID
	return func() tea.Msg {
		err := m.client.Events(m.ctx, lastID, func(ev events.Event) {
			select {
			case m.hubEvents <- ev:
			case <-m.ctx.Done():
			}
		})
		return sseDisconnectedMsg{err: err}
	}
}

func (m Model) receiveNextEvent() tea.Cmd {
	return func() tea.Msg {
		select {
		case ev := <-m.hubEvents:
			return eventMsg(ev)
		case <-m.ctx.Done():
			return nil
		}
	}
}

func (m Model) fetchHealth() tea.Msg {
	h, err := m.client.Health(m.ctx)
	if err != nil {
		return errMsg{err: err, poll: true}
	}
	return healthMsg(h)
}

func (m Model) fetchSlots() tea.Msg {
	s, err := m.client.Slots(m.ctx)
	if err != nil {
		return errMsg{err: err}
	}
	return slotsMsg(s)
}
