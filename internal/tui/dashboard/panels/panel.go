// Package panels holds the boxed sections of the monitor dashboard.
package panels

import (
	"strings"

	"github.com/charmbracelet/lipgloss"
)

// PanelConfig names a panel and bounds its size.
type PanelConfig struct {
	ID        string
	Title     string
	MinWidth  int
	MinHeight int
}

// PanelBase provides common functionality for panel implementations.
type PanelBase struct {
	config  PanelConfig
	width   int
	height  int
	focused bool
}

// NewPanelBase creates a new PanelBase with the given config.
func NewPanelBase(cfg PanelConfig) PanelBase {
	return PanelBase{config: cfg}
}

// SetSize clamps to the configured minimums.
func (b *PanelBase) SetSize(width, height int) {
	if width < b.config.MinWidth {
		width = b.config.MinWidth
	}
	if height < b.config.MinHeight {
		height = b.config.MinHeight
	}
	b.width = width
	b.height = height
}

// Focus highlights the panel border.
func (b *PanelBase) Focus() {
	b.focused = true
}

// IsFocused returns whether the panel is focused
func (b *PanelBase) IsFocused() bool {
	return b.focused
}

// Width returns the current panel width
func (b *PanelBase) Width() int {
	return b.width
}

// Height returns the current panel height
func (b *PanelBase) Height() int {
	return b.height
}

// Palette used by every panel.
var (
	ColorBorder   = lipgloss.Color("240")
	ColorFocus    = lipgloss.Color("75")
	ColorTitle    = lipgloss.Color("183")
	ColorMuted    = lipgloss.Color("244")
	ColorGood     = lipgloss.Color("42")
	ColorBad      = lipgloss.Color("203")
	ColorWarn     = lipgloss.Color("214")
	ColorEmphasis = lipgloss.Color("81")
)

// frame draws the rounded box and centered title shared by all panels.
func (b *PanelBase) frame(body string) string {
	border := ColorBorder
	if b.focused {
		border = ColorFocus
	}
	w, h := b.width, b.height
	box := lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(border).
		Width(w-2).
		Height(h-2).
		Padding(0, 1)
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(ColorTitle).
		Border(lipgloss.NormalBorder(), false, false, true, false).
		BorderForeground(ColorBorder).
		Width(w - 4).
		Align(lipgloss.Center)

	inner := FitToHeight(body, h-4)
	return box.Render(header.Render(b.config.Title) + "\n" + inner)
}

// FitToHeight ensures content exactly fills targetHeight lines,
// truncating if too long or padding if too short.
func FitToHeight(content string, targetHeight int) string {
	if targetHeight <= 0 {
		return ""
	}
	lines := strings.Split(content, "\n")

	if len(lines) > targetHeight {
		lines = lines[:targetHeight]
	}
	for len(lines) < targetHeight {
		lines = append(lines, "")
	}

	return strings.Join(lines, "\n")
}
