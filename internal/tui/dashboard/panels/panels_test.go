package panels

import (
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

func TestFitToHeight(t *testing.T) {
	if got := FitToHeight("a\nb\nc", 2); got != "a\nb" {
		t.Errorf("truncate: %q", got)
	}
	if got := FitToHeight("a", 3); got != "a\n\n" {
		t.Errorf("pad: %q", got)
	}
	if got := FitToHeight("a", 0); got != "" {
		t.Errorf("zero: %q", got)
	}
}

func TestSetSizeHonorsMinimums(t *testing.T) {
	p := NewHistoryPanel()
	p.SetSize(1, 1)
	if p.Width() != 30 || p.Height() != 6 {
		t.Errorf("size = %dx%d, want 30x6", p.Width(), p.Height())
	}
}

func TestCooldownLines(t *testing.T) {
	p := NewCooldownsPanel()
	p.SetCooldowns(map[string]time.Duration{
		"spacing":  1500 * time.Millisecond,
		"enhanced": 0,
	})
	lines := p.Lines()
	if len(lines) != len(watchdog.AllWindows) {
		t.Fatalf("got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "spacing") || !strings.HasSuffix(lines[0], "2s") {
		t.Errorf("spacing line = %q", lines[0])
	}
	if !strings.HasSuffix(lines[4], "ready") {
		t.Errorf("enhanced line = %q", lines[4])
	}
}

func TestHistoryCursor(t *testing.T) {
	p := NewHistoryPanel()
	p.SetSize(60, 10)
	p.Focus()
	p.SetEntries([]journal.Entry{
		{Kind: "watchdog.action", Tier: "resume_link", Success: true},
		{Kind: "watchdog.action_failed", Tier: "error_retry_click", Error: "click failed"},
	})

	down := tea.KeyMsg{Type: tea.KeyDown}
	p.Update(down)
	p.Update(down)
	if p.Cursor() != 1 {
		t.Errorf("cursor = %d, want 1", p.Cursor())
	}

	p.SetEntries(nil)
	if p.Cursor() != 0 {
		t.Errorf("cursor after clear = %d", p.Cursor())
	}
	if !strings.Contains(p.View(), "No actions yet") {
		t.Error("empty history should say so")
	}
}

func TestHistoryNote(t *testing.T) {
	p := NewHistoryPanel()
	p.SetSize(60, 10)
	p.SetNote("journal disabled")
	if !strings.Contains(p.View(), "journal disabled") {
		t.Error("note not rendered")
	}
}

func TestStatusRows(t *testing.T) {
	p := NewStatusPanel()
	p.SetStatus(watchdog.Status{
		Target:    "main:0",
		Active:    true,
		LastError: "probe timeout",
		LastDecision: &watchdog.Decision{
			Tier:   watchdog.TierResumeLink,
			Reason: "resume link visible",
		},
	})
	rows := p.Rows()
	if rows[0][0] != "Target" || rows[0][1] != "main:0" {
		t.Errorf("first row = %v", rows[0])
	}
	var sawAction, sawErr bool
	for _, r := range rows {
		switch r[0] {
		case "Last action":
			sawAction = strings.Contains(r[1], "resume_link")
		case "Last error":
			sawErr = r[1] == "probe timeout"
		}
	}
	if !sawAction || !sawErr {
		t.Errorf("rows = %v", rows)
	}
}
