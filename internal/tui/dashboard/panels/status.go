package panels

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/keepalive/internal/output"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

func statusConfig() PanelConfig {
	return PanelConfig{
		ID:        "status",
		Title:     "Watchdog",
		MinWidth:  30,
		MinHeight: 8,
	}
}

// StatusPanel summarizes the watchdog's run state and counters.
type StatusPanel struct {
	PanelBase
	status watchdog.Status
	loaded bool
}

// NewStatusPanel creates a new status panel
func NewStatusPanel() *StatusPanel {
	return &StatusPanel{PanelBase: NewPanelBase(statusConfig())}
}

// Init implements tea.Model
func (m *StatusPanel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *StatusPanel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

// SetStatus replaces the displayed status.
func (m *StatusPanel) SetStatus(st watchdog.Status) {
	m.status = st
	m.loaded = true
}

// Rows returns the label/value pairs the panel renders.
func (m *StatusPanel) Rows() [][2]string {
	st := m.status
	active := "stopped"
	if st.Active {
		active = "active"
	}
	if st.StopPending {
		active += " (stop pending)"
	}
	rows := [][2]string{
		{"Watchdog", active},
		{"Phase", st.Phase.String()},
		{"Session", fmt.Sprintf("%s (was %s)", st.State, st.PreviousState)},
		{"Retries", fmt.Sprintf("%d", st.RetryCount)},
		{"Escalations", fmt.Sprintf("%d", st.SimulateAttempts)},
		{"Budget", st.BudgetRemaining.Round(time.Second).String()},
		{"Ticks", fmt.Sprintf("%d (%s)", st.Ticks, output.CountStr(int(st.ProbeErrors), "probe error", "probe errors"))},
	}
	if st.Target != "" {
		rows = append([][2]string{{"Target", st.Target}}, rows...)
	}
	if st.LastDecision != nil && st.LastDecision.Tier != watchdog.TierNone {
		rows = append(rows, [2]string{"Last action", fmt.Sprintf("%s: %s", st.LastDecision.Tier, st.LastDecision.Reason)})
	}
	if st.LastError != "" {
		rows = append(rows, [2]string{"Last error", st.LastError})
	}
	return rows
}

// View renders the panel
func (m *StatusPanel) View() string {
	if !m.loaded {
		return m.frame("\n" + lipgloss.NewStyle().Foreground(ColorMuted).Italic(true).Render("Waiting for status..."))
	}
	label := lipgloss.NewStyle().Foreground(ColorMuted)
	width := m.Width() - 6
	var b strings.Builder
	for _, row := range m.Rows() {
		value := output.Truncate(row[1], width-14)
		switch row[0] {
		case "Watchdog":
			color := ColorBad
			if m.status.Active {
				color = ColorGood
			}
			value = lipgloss.NewStyle().Foreground(color).Bold(true).Render(value)
		case "Last error":
			value = lipgloss.NewStyle().Foreground(ColorBad).Render(value)
		}
		b.WriteString(label.Render(output.PadRight(row[0], 13)) + " " + value + "\n")
	}
	return m.frame(strings.TrimRight(b.String(), "\n"))
}
