// Package watchdog keeps a long-running assistant session alive. It polls an
// opaque UI through a UIProvider, tracks generation state over time and
// applies the least severe corrective action that the cooldowns allow.
package watchdog

import (
	"fmt"
	"time"
)

// SessionState is the observed state of the session's send control.
type SessionState int

const (
	// StateUndetermined means the provider could not resolve a state this tick.
	// It is never stored as the tracker's current state.
	StateUndetermined SessionState = iota
	// StateReady means the session is waiting for input.
	StateReady
	// StateGenerating means the assistant is producing output.
	StateGenerating
	// StateUnknown means the control was found but matched neither icon.
	StateUnknown
)

func (s SessionState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateGenerating:
		return "generating"
	case StateUnknown:
		return "unknown"
	default:
		return "undetermined"
	}
}

// Resolved reports whether s came from a successful probe.
func (s SessionState) Resolved() bool {
	return s != StateUndetermined
}

// MarshalText renders the state by name for JSON diagnostics.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state name. Unrecognized names read as Undetermined.
func (s *SessionState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "ready":
		*s = StateReady
	case "generating":
		*s = StateGenerating
	case "unknown":
		*s = StateUnknown
	default:
		*s = StateUndetermined
	}
	return nil
}

// Transition is a pair of states observed on consecutive resolved reads.
type Transition struct {
	From SessionState `json:"from"`
	To   SessionState `json:"to"`
}

// Started reports a Ready to Generating transition.
func (t Transition) Started() bool {
	return t.From == StateReady && t.To == StateGenerating
}

// Stopped reports a Generating to Ready transition.
func (t Transition) Stopped() bool {
	return t.From == StateGenerating && t.To == StateReady
}

// Changed reports whether the transition carries any change at all.
func (t Transition) Changed() bool {
	return t.From.Resolved() && t.To.Resolved() && t.From != t.To
}

func (t Transition) String() string {
	return fmt.Sprintf("%s->%s", t.From, t.To)
}

// ActionTier orders remediation actions by severity.
type ActionTier int

const (
	TierNone ActionTier = iota
	TierResumeLink
	TierErrorRetryClick
	TierSimulateContinue
	TierSimulateEnhanced
	TierOperatorAlert
)

// AllTiers lists every firing tier in ascending severity.
var AllTiers = []ActionTier{
	TierResumeLink,
	TierErrorRetryClick,
	TierSimulateContinue,
	TierSimulateEnhanced,
	TierOperatorAlert,
}

func (t ActionTier) String() string {
	switch t {
	case TierResumeLink:
		return "resume_link"
	case TierErrorRetryClick:
		return "error_retry_click"
	case TierSimulateContinue:
		return "simulate_continue"
	case TierSimulateEnhanced:
		return "simulate_enhanced"
	case TierOperatorAlert:
		return "operator_alert"
	default:
		return "none"
	}
}

// MarshalText renders the tier by name.
func (t ActionTier) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// UnmarshalText parses a tier name.
func (t *ActionTier) UnmarshalText(b []byte) error {
	for _, tier := range AllTiers {
		if tier.String() == string(b) {
			*t = tier
			return nil
		}
	}
	*t = TierNone
	return nil
}

// InjectsText reports whether the tier is carried out by typing a command.
func (t ActionTier) InjectsText() bool {
	return t == TierSimulateContinue || t == TierSimulateEnhanced
}

// PolicyState is the escalation policy's own state.
type PolicyState int

const (
	PolicyIdle PolicyState = iota
	PolicyAwaitingResolution
	PolicyEscalating
	PolicySuspended
)

func (p PolicyState) String() string {
	switch p {
	case PolicyAwaitingResolution:
		return "awaiting_resolution"
	case PolicyEscalating:
		return "escalating"
	case PolicySuspended:
		return "suspended"
	default:
		return "idle"
	}
}

// MarshalText renders the policy state by name.
func (p PolicyState) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a policy state name.
func (p *PolicyState) UnmarshalText(b []byte) error {
	switch string(b) {
	case "awaiting_resolution":
		*p = PolicyAwaitingResolution
	case "escalating":
		*p = PolicyEscalating
	case "suspended":
		*p = PolicySuspended
	default:
		*p = PolicyIdle
	}
	return nil
}

// SignalKind selects which actionable control FindActionableSignal looks for.
type SignalKind int

const (
	// SignalResumeLink is the link offered after a provider-imposed pause.
	SignalResumeLink SignalKind = iota
	// SignalErrorRetry is a retry control next to a connection or rate-limit error.
	SignalErrorRetry
)

func (k SignalKind) String() string {
	if k == SignalResumeLink {
		return "resume_link"
	}
	return "error_retry"
}

// ControlRef identifies a control the provider found and can click later in
// the same tick. Its fields are opaque to the watchdog.
type ControlRef struct {
	Kind     SignalKind `json:"kind"`
	Label    string     `json:"label"`
	Selector string     `json:"selector,omitempty"`
	Keys     []string   `json:"keys,omitempty"`
	Strategy string     `json:"strategy,omitempty"`
}

// Decision is the policy's output for one tick.
type Decision struct {
	Tier   ActionTier  `json:"tier"`
	Reason string      `json:"reason"`
	Text   string      `json:"text,omitempty"`
	Ref    *ControlRef `json:"ref,omitempty"`
	// Halt asks the watchdog to tear down its scheduler.
	Halt bool `json:"halt,omitempty"`
	// Escalated marks decisions taken after the retry ceiling was exceeded.
	Escalated bool      `json:"escalated,omitempty"`
	At        time.Time `json:"at"`
}

// Fires reports whether the decision performs an action.
func (d Decision) Fires() bool {
	return d.Tier != TierNone
}
