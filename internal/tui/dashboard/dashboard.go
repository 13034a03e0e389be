// Package dashboard provides the live monitor view of a running watchdog.
package dashboard

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/help"
	"github.com/charmbracelet/bubbles/key"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/keepalive/internal/output"
	"github.com/Dicklesworthstone/keepalive/internal/tui/dashboard/panels"
)

// DefaultRefreshInterval is how often the dashboard polls for status.
const DefaultRefreshInterval = time.Second

// KeyMap defines dashboard keybindings
type KeyMap struct {
	Toggle  key.Binding
	Reset   key.Binding
	Pause   key.Binding
	Refresh key.Binding
	Up      key.Binding
	Down    key.Binding
	Help    key.Binding
	Quit    key.Binding
}

// DefaultKeyMap returns the standard keybindings.
func DefaultKeyMap() KeyMap {
	return KeyMap{
		Toggle:  key.NewBinding(key.WithKeys("s"), key.WithHelp("s", "start/stop")),
		Reset:   key.NewBinding(key.WithKeys("r"), key.WithHelp("r", "reset")),
		Pause:   key.NewBinding(key.WithKeys("p"), key.WithHelp("p", "pause refresh")),
		Refresh: key.NewBinding(key.WithKeys("u"), key.WithHelp("u", "refresh")),
		Up:      key.NewBinding(key.WithKeys("up", "k"), key.WithHelp("↑/k", "up")),
		Down:    key.NewBinding(key.WithKeys("down", "j"), key.WithHelp("↓/j", "down")),
		Help:    key.NewBinding(key.WithKeys("?"), key.WithHelp("?", "help")),
		Quit:    key.NewBinding(key.WithKeys("q", "esc", "ctrl+c"), key.WithHelp("q", "quit")),
	}
}

// ShortHelp implements help.KeyMap
func (k KeyMap) ShortHelp() []key.Binding {
	return []key.Binding{k.Toggle, k.Reset, k.Pause, k.Help, k.Quit}
}

// FullHelp implements help.KeyMap
func (k KeyMap) FullHelp() [][]key.Binding {
	return [][]key.Binding{
		{k.Toggle, k.Reset, k.Refresh, k.Pause},
		{k.Up, k.Down, k.Help, k.Quit},
	}
}

// Model is the monitor dashboard.
type Model struct {
	client   Client
	addr     string
	keys     KeyMap
	help     help.Model
	width    int
	height   int
	interval time.Duration

	runID    string
	err      error
	notice   string
	paused   bool
	quitting bool
	updated  time.Time

	status    *panels.StatusPanel
	cooldowns *panels.CooldownsPanel
	history   *panels.HistoryPanel
}

// New creates a dashboard polling client. addr is only displayed.
func New(client Client, addr string) Model {
	m := Model{
		client:    client,
		addr:      addr,
		keys:      DefaultKeyMap(),
		help:      help.New(),
		width:     80,
		height:    24,
		interval:  DefaultRefreshInterval,
		status:    panels.NewStatusPanel(),
		cooldowns: panels.NewCooldownsPanel(),
		history:   panels.NewHistoryPanel(),
	}
	m.history.Focus()
	m.resize()
	return m
}

// WithRefreshInterval overrides the poll period.
func (m Model) WithRefreshInterval(d time.Duration) Model {
	if d > 0 {
		m.interval = d
	}
	return m
}

// Init implements tea.Model
func (m Model) Init() tea.Cmd {
	return tea.Batch(fetchStatus(m.client), fetchHistory(m.client, ""))
}

// Update implements tea.Model
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.help.Width = msg.Width
		m.resize()
		return m, nil

	case tea.KeyMsg:
		switch {
		case key.Matches(msg, m.keys.Quit):
			m.quitting = true
			return m, tea.Quit
		case key.Matches(msg, m.keys.Toggle):
			m.notice = "toggling..."
			return m, control(m.client, "toggle")
		case key.Matches(msg, m.keys.Reset):
			m.notice = "resetting..."
			return m, control(m.client, "reset")
		case key.Matches(msg, m.keys.Pause):
			m.paused = !m.paused
			if m.paused {
				m.notice = "refresh paused"
				return m, nil
			}
			m.notice = "refresh resumed"
			return m, fetchStatus(m.client)
		case key.Matches(msg, m.keys.Refresh):
			return m, tea.Batch(fetchStatus(m.client), fetchHistory(m.client, m.runID))
		case key.Matches(msg, m.keys.Help):
			m.help.ShowAll = !m.help.ShowAll
			m.resize()
			return m, nil
		case key.Matches(msg, m.keys.Up), key.Matches(msg, m.keys.Down):
			m.history.Update(msg)
			return m, nil
		}

	case StatusMsg:
		m.err = msg.Err
		if msg.Err == nil {
			m.apply(msg)
		}
		if m.paused {
			return m, nil
		}
		return m, tea.Batch(fetchHistory(m.client, m.runID), tick(m.interval))

	case HistoryMsg:
		if msg.Err != nil {
			m.history.SetNote(msg.Err.Error())
			return m, nil
		}
		m.history.SetEntries(msg.Entries)
		return m, nil

	case ControlMsg:
		if msg.Err != nil {
			m.err = msg.Err
			m.notice = ""
			return m, nil
		}
		m.err = nil
		m.apply(StatusMsg{Status: msg.Status})
		switch {
		case msg.Op == "reset":
			m.notice = "watchdog reset"
		case msg.Status.Active:
			m.notice = "watchdog started"
		default:
			m.notice = "watchdog stopped"
		}
		return m, fetchHistory(m.client, m.runID)

	case RefreshMsg:
		if m.paused {
			return m, nil
		}
		return m, fetchStatus(m.client)
	}
	return m, nil
}

func (m *Model) apply(msg StatusMsg) {
	m.runID = msg.Status.RunID
	m.updated = time.Now()
	m.status.SetStatus(msg.Status)
	m.cooldowns.SetCooldowns(msg.Status.Cooldowns)
}

// resize splits the screen: status and cooldowns on top, history below.
func (m *Model) resize() {
	top := 12
	footer := 3
	if m.help.ShowAll {
		footer = 5
	}
	left := m.width * 3 / 5
	m.status.SetSize(left, top)
	m.cooldowns.SetSize(m.width-left, top)
	m.history.SetSize(m.width, m.height-top-footer-1)
}

// View implements tea.Model
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	title := lipgloss.NewStyle().Bold(true).Foreground(panels.ColorTitle).Render("keepalive")
	meta := lipgloss.NewStyle().Foreground(panels.ColorMuted).Render(m.addr)
	header := title + "  " + meta
	if !m.updated.IsZero() {
		header += lipgloss.NewStyle().Foreground(panels.ColorMuted).
			Render(fmt.Sprintf("  updated %s", m.updated.Format("15:04:05")))
	}

	top := lipgloss.JoinHorizontal(lipgloss.Top, m.status.View(), m.cooldowns.View())

	var footer strings.Builder
	switch {
	case m.err != nil:
		footer.WriteString(lipgloss.NewStyle().Foreground(panels.ColorBad).
			Render(output.Truncate("error: "+m.err.Error(), m.width)))
	case m.notice != "":
		footer.WriteString(lipgloss.NewStyle().Foreground(panels.ColorEmphasis).Render(m.notice))
	}
	if m.paused {
		footer.WriteString(lipgloss.NewStyle().Foreground(panels.ColorWarn).Render("  [paused]"))
	}

	return lipgloss.JoinVertical(lipgloss.Left,
		header,
		top,
		m.history.View(),
		footer.String(),
		m.help.View(m.keys),
	)
}

// Paused reports whether automatic refresh is off.
func (m Model) Paused() bool {
	return m.paused
}

// Err returns the last request error, if any.
func (m Model) Err() error {
	return m.err
}

// Notice returns the transient footer message.
func (m Model) Notice() string {
	return m.notice
}
