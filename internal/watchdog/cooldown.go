package watchdog

import "time"

// Window names one independent cooldown timer.
type Window int

const (
	// WindowSpacing is the minimum gap between any two UI-affecting actions.
	WindowSpacing Window = iota
	// WindowRetry counts consecutive error-retry clicks. It never gates.
	WindowRetry
	// WindowSimulate counts escalated continuations. It never gates.
	WindowSimulate
	// WindowContinuation gates ordinary continuation commands.
	WindowContinuation
	// WindowEnhanced gates the enhanced command.
	WindowEnhanced

	numWindows
)

// AllWindows lists every cooldown window in declaration order.
var AllWindows = []Window{
	WindowSpacing,
	WindowRetry,
	WindowSimulate,
	WindowContinuation,
	WindowEnhanced,
}

func (w Window) String() string {
	switch w {
	case WindowSpacing:
		return "spacing"
	case WindowRetry:
		return "retry"
	case WindowSimulate:
		return "simulate"
	case WindowContinuation:
		return "continuation"
	case WindowEnhanced:
		return "enhanced"
	default:
		return "unknown"
	}
}

// tierWindows lists the gating windows for a tier. Firing the tier refreshes
// exactly these windows.
func tierWindows(tier ActionTier) []Window {
	switch tier {
	case TierResumeLink, TierErrorRetryClick:
		return []Window{WindowSpacing}
	case TierSimulateContinue:
		return []Window{WindowSpacing, WindowContinuation}
	case TierSimulateEnhanced:
		return []Window{WindowSpacing, WindowEnhanced}
	default:
		return nil
	}
}

// CooldownManager keeps the last-fired time of every window.
type CooldownManager struct {
	clock     Clock
	durations [numWindows]time.Duration
	last      [numWindows]time.Time
}

// NewCooldownManager creates a manager with every window open.
func NewCooldownManager(clock Clock, cfg Config) *CooldownManager {
	c := &CooldownManager{clock: clock}
	c.SetDurations(cfg)
	return c
}

// SetDurations applies new window lengths without touching recorded times.
func (c *CooldownManager) SetDurations(cfg Config) {
	c.durations[WindowSpacing] = cfg.ClickCooldown
	c.durations[WindowRetry] = cfg.RetryWindow
	c.durations[WindowSimulate] = cfg.SimulateCooldown
	c.durations[WindowContinuation] = cfg.ContinuationCooldown
	c.durations[WindowEnhanced] = cfg.EnhancedCooldown
}

// Ready reports whether w has elapsed (or never fired).
func (c *CooldownManager) Ready(w Window) bool {
	last := c.last[w]
	if last.IsZero() {
		return true
	}
	return !c.clock.Now().Before(last.Add(c.durations[w]))
}

// Within reports whether w fired less than its duration ago. Used by the
// rolling counting windows.
func (c *CooldownManager) Within(w Window) bool {
	last := c.last[w]
	if last.IsZero() {
		return false
	}
	return c.clock.Now().Sub(last) < c.durations[w]
}

// Record marks w as fired now.
func (c *CooldownManager) Record(w Window) {
	c.last[w] = c.clock.Now()
}

// Clear forgets w's last fire time.
func (c *CooldownManager) Clear(w Window) {
	c.last[w] = time.Time{}
}

// Reset forgets every window.
func (c *CooldownManager) Reset() {
	c.last = [numWindows]time.Time{}
}

// Remaining returns how long until w is ready again.
func (c *CooldownManager) Remaining(w Window) time.Duration {
	last := c.last[w]
	if last.IsZero() {
		return 0
	}
	left := last.Add(c.durations[w]).Sub(c.clock.Now())
	if left < 0 {
		return 0
	}
	return left
}

// Allows reports whether every window gating tier is ready.
func (c *CooldownManager) Allows(tier ActionTier) bool {
	for _, w := range tierWindows(tier) {
		if !c.Ready(w) {
			return false
		}
	}
	return true
}

// TryConsume gates tier: it returns false when any of its windows is still
// running, otherwise it refreshes them all and returns true.
func (c *CooldownManager) TryConsume(tier ActionTier) bool {
	if !c.Allows(tier) {
		return false
	}
	for _, w := range tierWindows(tier) {
		c.Record(w)
	}
	return true
}

// Snapshot returns the remaining time of every window keyed by name.
func (c *CooldownManager) Snapshot() map[string]time.Duration {
	out := make(map[string]time.Duration, numWindows)
	for w := Window(0); w < numWindows; w++ {
		out[w.String()] = c.Remaining(w)
	}
	return out
}
