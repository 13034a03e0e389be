package watchdog

import (
	"context"

	"github.com/Dicklesworthstone/keepalive/internal/notify"
)

// UIProvider is the capability the watchdog needs from the UI it keeps alive.
// Every call must return within the deadline carried by ctx.
type UIProvider interface {
	// ProbeSessionState reads the send control. StateUndetermined or an error
	// means nothing could be resolved this tick.
	ProbeSessionState(ctx context.Context) (SessionState, error)

	// FindActionableSignal returns the control for kind, or nil when the
	// signal is absent.
	FindActionableSignal(ctx context.Context, kind SignalKind) (*ControlRef, error)

	Click(ctx context.Context, ref ControlRef) error

	// InjectText focuses the input, sets its content, and submits it after a
	// short provider-specific delay.
	InjectText(ctx context.Context, text string) error

	// ReadTrailingTextMarkers returns recent text markers, most recent last.
	ReadTrailingTextMarkers(ctx context.Context) ([]string, error)

	CountNoProgressMarkers(ctx context.Context) (int, error)

	// ReadLastTwoNoProgressMarkers returns the two most recent no-progress
	// markers. ok is false when fewer than two exist.
	ReadLastTwoNoProgressMarkers(ctx context.Context) (prev, last string, ok bool, err error)
}

// CancelProbe is implemented by providers that can observe a user-initiated
// stop gesture in the UI.
type CancelProbe interface {
	CancelRequested(ctx context.Context) (bool, error)
}

// Notifier receives operator-facing notices. *notify.Notifier satisfies it.
type Notifier interface {
	Notify(event notify.Event) error
}
