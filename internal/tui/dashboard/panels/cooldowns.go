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

func cooldownsConfig() PanelConfig {
	return PanelConfig{
		ID:        "cooldowns",
		Title:     "Cooldowns",
		MinWidth:  24,
		MinHeight: 8,
	}
}

// CooldownsPanel shows the remaining time on each cooldown window.
type CooldownsPanel struct {
	PanelBase
	remaining map[string]time.Duration
}

// NewCooldownsPanel creates a new cooldowns panel
func NewCooldownsPanel() *CooldownsPanel {
	return &CooldownsPanel{PanelBase: NewPanelBase(cooldownsConfig())}
}

// Init implements tea.Model
func (m *CooldownsPanel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *CooldownsPanel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	return m, nil
}

// SetCooldowns replaces the displayed values.
func (m *CooldownsPanel) SetCooldowns(remaining map[string]time.Duration) {
	m.remaining = remaining
}

// Lines returns one "name value" row per window, in window order.
func (m *CooldownsPanel) Lines() []string {
	lines := make([]string, 0, len(watchdog.AllWindows))
	for _, w := range watchdog.AllWindows {
		name := w.String()
		lines = append(lines, fmt.Sprintf("%s %s", output.PadRight(name, 13), formatRemaining(m.remaining[name])))
	}
	return lines
}

// View renders the panel
func (m *CooldownsPanel) View() string {
	var b strings.Builder
	for i, line := range m.Lines() {
		style := lipgloss.NewStyle().Foreground(ColorGood)
		if m.remaining[watchdog.AllWindows[i].String()] > 0 {
			style = lipgloss.NewStyle().Foreground(ColorWarn)
		}
		b.WriteString(style.Render(line) + "\n")
	}
	return m.frame(strings.TrimRight(b.String(), "\n"))
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "ready"
	}
	return d.Round(time.Second).String()
}
