package watchdog

import (
	"strings"
	"time"
)

// Snapshot is everything observed in one tick. The policy decides against it
// alone so detection and decision never disagree.
type Snapshot struct {
	At             time.Time
	State          SessionState
	Transition     Transition
	StopPending    bool
	GenerationSeen bool
	Resume         *ControlRef
	ErrorRetry     *ControlRef
	Stalled        bool
	Trailing       []string
	// ProbeFailed marks a tick whose observation was cut short.
	ProbeFailed bool
}

// LastMarker returns the most recent trailing text marker.
func (s Snapshot) LastMarker() string {
	if len(s.Trailing) == 0 {
		return ""
	}
	return s.Trailing[len(s.Trailing)-1]
}

// RunState is the single mutable context of one watchdog. Only the watchdog
// that owns it passes it to the policy.
type RunState struct {
	StartedAt        time.Time
	Phase            PolicyState
	RetryCount       int
	SimulateAttempts int

	Cooldowns *CooldownManager
	Tracker   *StateTracker
}

// EscalationPolicy applies the ordered remediation rules.
type EscalationPolicy struct {
	cfg Config
}

// NewEscalationPolicy returns a policy for cfg.
func NewEscalationPolicy(cfg Config) *EscalationPolicy {
	return &EscalationPolicy{cfg: cfg}
}

// SetConfig swaps the policy's configuration.
func (p *EscalationPolicy) SetConfig(cfg Config) {
	p.cfg = cfg
}

// Decide evaluates the rules in priority order against s and returns the
// first match. It updates rs as if the chosen action was attempted.
func (p *EscalationPolicy) Decide(rs *RunState, s Snapshot) Decision {
	d := Decision{At: s.At}

	if rs.Phase == PolicySuspended {
		d.Reason = "suspended"
		return d
	}
	if rs.Phase == PolicyAwaitingResolution && s.State == StateGenerating {
		rs.Phase = PolicyIdle
	}

	// 1. budget
	if s.At.Sub(rs.StartedAt) > p.cfg.MaxDuration {
		rs.Phase = PolicySuspended
		d.Halt = true
		d.Reason = "session budget exhausted"
		return d
	}
	if s.ProbeFailed {
		d.Reason = "probe failure"
		return d
	}

	// 2. resume link
	if s.Resume != nil && rs.Cooldowns.Allows(TierResumeLink) {
		rs.RetryCount = 0
		rs.Cooldowns.Reset()
		rs.Cooldowns.TryConsume(TierResumeLink)
		rs.Phase = PolicyIdle
		d.Tier = TierResumeLink
		d.Ref = s.Resume
		d.Reason = "resume link offered"
		return d
	}

	// 3. no-progress loop
	if s.Stalled && rs.Cooldowns.TryConsume(TierSimulateEnhanced) {
		rs.Phase = PolicyAwaitingResolution
		d.Tier = TierSimulateEnhanced
		d.Text = p.cfg.EnhancedText
		d.Reason = "no-progress loop detected"
		return d
	}

	// 4. error retry, overflowing into 5.
	if s.ErrorRetry != nil && rs.Cooldowns.Ready(WindowSpacing) {
		count := 1
		if rs.Cooldowns.Within(WindowRetry) {
			count = rs.RetryCount + 1
		}
		if count <= p.cfg.MaxConsecutiveRetries {
			rs.RetryCount = count
			rs.Cooldowns.TryConsume(TierErrorRetryClick)
			rs.Cooldowns.Record(WindowRetry)
			rs.Phase = PolicyAwaitingResolution
			d.Tier = TierErrorRetryClick
			d.Ref = s.ErrorRetry
			d.Reason = "error with retry control"
			return d
		}
		if esc := p.escalate(rs, d); esc.Fires() {
			return esc
		}
		// deferred; an end marker may still suspend below
		d.Reason = "escalated continuation cooling down"
	}

	// 6 and 7 share the latched Generating->Ready transition.
	if s.StopPending {
		if equalMarker(s.LastMarker(), p.cfg.EndMarker) {
			rs.Tracker.ConsumeStop()
			rs.Phase = PolicySuspended
			d.Reason = "end of session marker"
			return d
		}
		if !s.GenerationSeen {
			rs.Tracker.ConsumeStop()
			d.Reason = "generation never observed"
			return d
		}
		if rs.Cooldowns.Allows(TierSimulateContinue) {
			enhanced := s.Stalled && rs.Cooldowns.Ready(WindowEnhanced)
			rs.Cooldowns.TryConsume(TierSimulateContinue)
			d.Text = p.cfg.ContinueText
			if enhanced {
				rs.Cooldowns.Record(WindowEnhanced)
				d.Text = p.cfg.EnhancedText
			}
			rs.Tracker.ConsumeStop()
			rs.Phase = PolicyAwaitingResolution
			d.Tier = TierSimulateContinue
			d.Reason = "generation stopped"
			return d
		}
		d.Reason = "continuation cooling down"
		return d
	}

	return d
}

// escalate handles a retry counter past its ceiling: one more continuation,
// or an operator alert once the simulate attempts run out. Both counters of
// the retry path reset either way. A continuation still inside its cooldown
// is deferred with the counters untouched.
func (p *EscalationPolicy) escalate(rs *RunState, d Decision) Decision {
	rs.Phase = PolicyEscalating
	attempts := 1
	if rs.Cooldowns.Within(WindowSimulate) {
		attempts = rs.SimulateAttempts + 1
	}
	if attempts <= p.cfg.MaxSimulateAttempts && !rs.Cooldowns.Allows(TierSimulateContinue) {
		return d
	}
	rs.SimulateAttempts = attempts
	rs.RetryCount = 0
	rs.Cooldowns.Clear(WindowRetry)
	d.Escalated = true

	if rs.SimulateAttempts > p.cfg.MaxSimulateAttempts {
		rs.SimulateAttempts = 0
		rs.Cooldowns.Clear(WindowSimulate)
		rs.Phase = PolicyIdle
		d.Tier = TierOperatorAlert
		d.Reason = "continuation attempts exhausted"
		return d
	}

	rs.Cooldowns.TryConsume(TierSimulateContinue)
	rs.Cooldowns.Record(WindowSimulate)
	rs.Phase = PolicyIdle
	d.Tier = TierSimulateContinue
	d.Text = p.cfg.ContinueText
	d.Reason = "retry ceiling exceeded"
	return d
}

func equalMarker(marker, want string) bool {
	want = strings.TrimSpace(want)
	return want != "" && strings.EqualFold(strings.TrimSpace(marker), want)
}
