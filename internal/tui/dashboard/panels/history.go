package panels

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/output"
)

func historyConfig() PanelConfig {
	return PanelConfig{
		ID:        "history",
		Title:     "Recent Actions",
		MinWidth:  30,
		MinHeight: 6,
	}
}

// HistoryPanel lists journaled actions, newest first.
type HistoryPanel struct {
	PanelBase
	entries []journal.Entry
	note    string
	cursor  int
	offset  int
}

// NewHistoryPanel creates a new history panel
func NewHistoryPanel() *HistoryPanel {
	return &HistoryPanel{PanelBase: NewPanelBase(historyConfig())}
}

// Init implements tea.Model
func (m *HistoryPanel) Init() tea.Cmd {
	return nil
}

// Update implements tea.Model
func (m *HistoryPanel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if !m.IsFocused() {
		return m, nil
	}
	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "up", "k":
			if m.cursor > 0 {
				m.cursor--
				if m.cursor < m.offset {
					m.offset = m.cursor
				}
			}
		case "down", "j":
			if m.cursor < len(m.entries)-1 {
				m.cursor++
				if m.cursor >= m.offset+m.contentHeight() {
					m.offset = m.cursor - m.contentHeight() + 1
				}
			}
		}
	}
	return m, nil
}

// SetEntries replaces the listed entries.
func (m *HistoryPanel) SetEntries(entries []journal.Entry) {
	m.entries = entries
	m.note = ""
	if m.cursor >= len(m.entries) {
		m.cursor = len(m.entries) - 1
	}
	if m.cursor < 0 {
		m.cursor = 0
	}
	if m.offset > m.cursor {
		m.offset = m.cursor
	}
}

// SetNote shows note instead of entries, e.g. when the journal is off.
func (m *HistoryPanel) SetNote(note string) {
	m.note = note
}

// Cursor returns the selected row.
func (m *HistoryPanel) Cursor() int {
	return m.cursor
}

func (m *HistoryPanel) contentHeight() int {
	h := m.Height() - 4 // borders + header
	if h < 1 {
		return 1
	}
	return h
}

// View renders the panel
func (m *HistoryPanel) View() string {
	muted := lipgloss.NewStyle().Foreground(ColorMuted)

	if m.note != "" {
		return m.frame("\n" + muted.Italic(true).Render(m.note))
	}
	if len(m.entries) == 0 {
		return m.frame("\n" + muted.Italic(true).Render("No actions yet"))
	}

	var content strings.Builder
	end := m.offset + m.contentHeight()
	if end > len(m.entries) {
		end = len(m.entries)
	}
	width := m.Width() - 6
	for i := m.offset; i < end; i++ {
		e := m.entries[i]

		mark := lipgloss.NewStyle().Foreground(ColorGood).Render("✓")
		if !e.Success {
			mark = lipgloss.NewStyle().Foreground(ColorBad).Render("✗")
		}
		label := e.Tier
		if label == "" {
			label = strings.TrimPrefix(e.Kind, "watchdog.")
		}
		detail := e.Reason
		if e.Error != "" {
			detail = e.Error
		}
		// mark, clock and label take 2+9+19 columns
		detail = output.Truncate(detail, width-30)
		line := fmt.Sprintf("%s %s %s %s",
			mark,
			muted.Render(e.At.Local().Format("15:04:05")),
			lipgloss.NewStyle().Foreground(ColorEmphasis).Render(output.PadRight(label, 18)),
			detail)

		style := lipgloss.NewStyle()
		if i == m.cursor && m.IsFocused() {
			style = style.Bold(true).Reverse(true)
		}
		content.WriteString(style.Render(line) + "\n")
	}
	return m.frame(strings.TrimRight(content.String(), "\n"))
}
