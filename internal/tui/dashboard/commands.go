package dashboard

import (
	"context"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Dicklesworthstone/keepalive/internal/journal"
	"github.com/Dicklesworthstone/keepalive/internal/watchdog"
)

// Client is the slice of the control API the dashboard needs.
// *serve.Client satisfies it.
type Client interface {
	Status(ctx context.Context) (watchdog.Status, error)
	Toggle(ctx context.Context) (watchdog.Status, error)
	Reset(ctx context.Context) (watchdog.Status, error)
	History(ctx context.Context, limit int, runID string) ([]journal.Entry, error)
}

const requestTimeout = 5 * time.Second

// historyLimit bounds each history fetch.
const historyLimit = 50

// StatusMsg carries a fetched status snapshot.
type StatusMsg struct {
	Status watchdog.Status
	Err    error
}

// HistoryMsg carries journal entries for the current run.
type HistoryMsg struct {
	Entries []journal.Entry
	Err     error
}

// ControlMsg reports the result of a toggle or reset.
type ControlMsg struct {
	Op     string
	Status watchdog.Status
	Err    error
}

// RefreshMsg triggers a refresh of all data
type RefreshMsg struct{}

func tick(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg {
		return RefreshMsg{}
	})
}

func fetchStatus(c Client) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		st, err := c.Status(ctx)
		return StatusMsg{Status: st, Err: err}
	}
}

func fetchHistory(c Client, runID string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		entries, err := c.History(ctx, historyLimit, runID)
		return HistoryMsg{Entries: entries, Err: err}
	}
}

func control(c Client, op string) tea.Cmd {
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
		defer cancel()
		var (
			st  watchdog.Status
			err error
		)
		switch op {
		case "reset":
			st, err = c.Reset(ctx)
		default:
			st, err = c.Toggle(ctx)
		}
		return ControlMsg{Op: op, Status: st, Err: err}
	}
}
