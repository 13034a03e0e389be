package watchdog

import (
	"context"
	"fmt"
	"time"
)

// StateTracker holds the last two resolved session states and latches the
// transitions the policy cares about until they are consumed.
type StateTracker struct {
	clock Clock

	previous SessionState
	current  SessionState

	lastTransitionAt time.Time
	// generationSeen is set by a Ready->Generating transition since reset.
	generationSeen bool
	// stopPending latches a Generating->Ready transition until consumed or
	// until generation starts again.
	stopPending bool
}

// NewStateTracker returns a tracker with no observed state.
func NewStateTracker(clock Clock) *StateTracker {
	return &StateTracker{clock: clock}
}

// Refresh probes the provider. A resolved read shifts current into previous
// and returns the new state with the transition it formed. A failed read
// returns StateUndetermined, an empty transition and a wrapped
// ErrProbeFailure, leaving everything stored untouched.
func (t *StateTracker) Refresh(ctx context.Context, p UIProvider) (SessionState, Transition, error) {
	state, err := p.ProbeSessionState(ctx)
	if err != nil {
		return StateUndetermined, Transition{}, fmt.Errorf("%w: session state: %v", ErrProbeFailure, err)
	}
	if !state.Resolved() {
		return StateUndetermined, Transition{}, nil
	}
	return state, t.observe(state), nil
}

func (t *StateTracker) observe(state SessionState) Transition {
	tr := Transition{From: t.current, To: state}
	t.previous = t.current
	t.current = state

	if !tr.Changed() {
		return Transition{}
	}
	t.lastTransitionAt = t.clock.Now()
	switch {
	case tr.Started():
		t.generationSeen = true
		t.stopPending = false
	case tr.Stopped():
		t.stopPending = true
	case state == StateGenerating:
		t.stopPending = false
	}
	return tr
}

// Current is the authoritative state. It is StateUndetermined only before the
// first resolved read.
func (t *StateTracker) Current() SessionState { return t.current }

// Previous is the state before Current.
func (t *StateTracker) Previous() SessionState { return t.previous }

// LastTransitionAt is when the last state change was observed.
func (t *StateTracker) LastTransitionAt() time.Time { return t.lastTransitionAt }

// GenerationSeen reports a Ready->Generating transition since reset.
func (t *StateTracker) GenerationSeen() bool { return t.generationSeen }

// StopPending reports an unconsumed Generating->Ready transition.
func (t *StateTracker) StopPending() bool { return t.stopPending }

// ConsumeStop clears the latched Generating->Ready transition.
func (t *StateTracker) ConsumeStop() { t.stopPending = false }

// Reset forgets all observed state.
func (t *StateTracker) Reset() {
	t.previous = StateUndetermined
	t.current = StateUndetermined
	t.lastTransitionAt = time.Time{}
	t.generationSeen = false
	t.stopPending = false
}
