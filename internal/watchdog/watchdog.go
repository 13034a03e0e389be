package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Dicklesworthstone/keepalive/internal/events"
	"github.com/Dicklesworthstone/keepalive/internal/notify"
)

// EventSink receives watchdog events. *events.Emitter satisfies it.
type EventSink interface {
	Emit(events.Event)
}

// Watchdog owns one RunState and drives the policy from its scheduler.
// Scheduled callbacks and the public control methods are serialized by mu.
type Watchdog struct {
	mu sync.Mutex

	cfg       Config
	provider  UIProvider
	scheduler Scheduler

	// Notifier receives operator notices (optional).
	Notifier Notifier
	// Events receives every decision and lifecycle change (optional).
	Events EventSink
	// Logger for structured logging.
	Logger *slog.Logger
	// Target names the watched session in logs and notices.
	Target string

	notices *notify.Queue

	runID    string
	rs       RunState
	policy   *EscalationPolicy
	detector *LoopDetector

	active        bool
	epoch         uint64
	reportedPhase PolicyState
	jobs          []Token
	delayed       map[uint64]Token
	nextID        uint64

	ticks        int64
	probeErrors  int64
	actionCounts map[ActionTier]int
	failures     int64
	lastDecision Decision
	lastError    string
}

// New creates a stopped watchdog.
func New(cfg Config, provider UIProvider, scheduler Scheduler) *Watchdog {
	w := &Watchdog{
		cfg:          cfg,
		provider:     provider,
		scheduler:    scheduler,
		runID:        uuid.NewString(),
		policy:       NewEscalationPolicy(cfg),
		detector:     NewLoopDetector(cfg, DefaultNoProgressPatterns),
		delayed:      make(map[uint64]Token),
		actionCounts: make(map[ActionTier]int),
	}
	w.rs = RunState{
		StartedAt: scheduler.Now(),
		Cooldowns: NewCooldownManager(scheduler, cfg),
		Tracker:   NewStateTracker(scheduler),
	}
	return w
}

// WithNotifier sets the operator notifier. Notices are delivered from a
// queue so a slow channel never holds the watchdog lock.
func (w *Watchdog) WithNotifier(n Notifier) *Watchdog {
	if w.notices != nil {
		w.notices.Close()
		w.notices = nil
	}
	w.Notifier = n
	return w
}

// WithEvents sets the event sink.
func (w *Watchdog) WithEvents(sink EventSink) *Watchdog {
	w.Events = sink
	return w
}

// WithLogger sets the logger.
func (w *Watchdog) WithLogger(l *slog.Logger) *Watchdog {
	w.Logger = l
	return w
}

// WithTarget sets the target label.
func (w *Watchdog) WithTarget(target string) *Watchdog {
	w.Target = target
	return w
}

// WithNoProgressPatterns replaces the loop detector's marker patterns.
func (w *Watchdog) WithNoProgressPatterns(patterns []string) *Watchdog {
	w.detector.Patterns = patterns
	return w
}

// WithRunID overrides the generated run id.
func (w *Watchdog) WithRunID(id string) *Watchdog {
	w.runID = id
	return w
}

func (w *Watchdog) logger() *slog.Logger {
	if w.Logger != nil {
		return w.Logger
	}
	return slog.Default()
}

// RunID identifies this watchdog instance.
func (w *Watchdog) RunID() string {
	return w.runID
}

// Start begins periodic ticking and performs one tick immediately. Starting
// an active watchdog is a no-op. A watchdog suspended by Stop or by an end
// marker resumes in Idle. Once the session budget is spent Start returns
// ErrBudgetExhausted and only Reset re-arms the watchdog.
func (w *Watchdog) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.startLocked()
}

func (w *Watchdog) startLocked() error {
	if w.active {
		return nil
	}
	if w.budgetSpentLocked() {
		w.logger().Warn("[Watchdog] start_refused", "run_id", w.runID, "error", ErrBudgetExhausted)
		return ErrBudgetExhausted
	}
	w.active = true
	if w.rs.Phase == PolicySuspended {
		w.setPhaseLocked(PolicyIdle, "started")
	}
	w.scheduleLocked()
	w.logger().Info("[Watchdog] started",
		"run_id", w.runID,
		"target", w.Target,
		"poll_interval", w.cfg.PollInterval,
		"transition_interval", w.cfg.TransitionInterval)
	w.emitLocked(events.TypeStarted, "")
	w.tickLocked()
	return nil
}

func (w *Watchdog) budgetSpentLocked() bool {
	return w.scheduler.Now().Sub(w.rs.StartedAt) > w.cfg.MaxDuration
}

func (w *Watchdog) scheduleLocked() {
	w.jobs = []Token{
		w.scheduler.Every(w.cfg.PollInterval, w.Tick),
		w.scheduler.Every(w.cfg.TransitionInterval, w.checkTransition),
	}
}

func (w *Watchdog) cancelJobsLocked() {
	for _, tok := range w.jobs {
		tok.Cancel()
	}
	w.jobs = nil
	w.cancelDelayedLocked()
}

func (w *Watchdog) cancelDelayedLocked() {
	for id, tok := range w.delayed {
		tok.Cancel()
		delete(w.delayed, id)
	}
}

// Stop halts ticking, cancels pending delayed actions and suspends the policy.
func (w *Watchdog) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopLocked("operator")
}

func (w *Watchdog) stopLocked(source string) {
	wasActive := w.active
	w.cancelJobsLocked()
	w.active = false
	w.epoch++
	w.setPhaseLocked(PolicySuspended, "stopped by "+source)
	if wasActive {
		w.logger().Info("[Watchdog] stopped", "run_id", w.runID, "source", source)
		w.emitLocked(events.TypeStopped, source)
	}
}

// Toggle starts a stopped watchdog or stops a running one and reports
// whether it is now active. A start refused by the budget leaves it stopped.
func (w *Watchdog) Toggle() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active {
		w.stopLocked("operator")
		return false
	}
	return w.startLocked() == nil
}

// Reset clears counters, cooldowns, observed state and the session budget.
// Whether ticking is active is unchanged.
func (w *Watchdog) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.resetLocked("operator")
}

func (w *Watchdog) resetLocked(source string) {
	w.cancelDelayedLocked()
	w.epoch++
	w.rs.StartedAt = w.scheduler.Now()
	w.rs.RetryCount = 0
	w.rs.SimulateAttempts = 0
	w.rs.Cooldowns.Reset()
	w.rs.Tracker.Reset()
	w.setPhaseLocked(PolicyIdle, "reset by "+source)
	w.logger().Info("[Watchdog] reset", "run_id", w.runID, "source", source)
	w.emitLocked(events.TypeReset, source)
}

// UpdateConfig swaps timings and texts. Cadence changes reschedule the
// periodic jobs of an active watchdog.
func (w *Watchdog) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	reschedule := w.active &&
		(cfg.PollInterval != w.cfg.PollInterval || cfg.TransitionInterval != w.cfg.TransitionInterval)
	w.cfg = cfg
	w.policy.SetConfig(cfg)
	w.rs.Cooldowns.SetDurations(cfg)
	w.detector.EnhancedText = cfg.EnhancedText
	w.detector.Lookback = cfg.EnhancedLookback
	if reschedule {
		for _, tok := range w.jobs {
			tok.Cancel()
		}
		w.scheduleLocked()
	}
	w.logger().Info("[Watchdog] config_updated", "run_id", w.runID, "rescheduled", reschedule)
	w.emitLocked(events.TypeConfig, "")
	return nil
}

// Tick observes the UI once and applies at most one action.
func (w *Watchdog) Tick() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.tickLocked()
}

// checkTransition is the fine-grained cadence: it only refreshes the state
// tracker so that short generation cycles between ticks are latched.
func (w *Watchdog) checkTransition() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.active || w.rs.Phase == PolicySuspended {
		return
	}
	ctx, cancel := w.probeContext()
	defer cancel()
	if _, tr, err := w.rs.Tracker.Refresh(ctx, w.provider); err != nil {
		w.probeFailedLocked(err)
	} else if tr.Changed() {
		w.logger().Debug("[Watchdog] transition", "transition", tr.String())
	}
}

func (w *Watchdog) probeContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), w.cfg.ProbeTimeout)
}

func (w *Watchdog) tickLocked() {
	w.ticks++
	if w.rs.Phase == PolicySuspended {
		return
	}

	ctx, cancel := w.probeContext()
	defer cancel()

	snap, cancelled, err := w.observeLocked(ctx)
	if err != nil {
		w.probeFailedLocked(err)
	}
	if cancelled != "" {
		w.stopLocked(cancelled)
		w.notifyLocked(notify.NewSessionStoppedEvent(w.Target, cancelled))
		return
	}
	if err != nil {
		snap = Snapshot{At: snap.At, ProbeFailed: true}
	}
	w.applyLocked(ctx, w.policy.Decide(&w.rs, snap))
}

// observeLocked gathers one consistent snapshot. It stops at the first
// provider failure. cancelled is non-empty when the UI asked to stop.
func (w *Watchdog) observeLocked(ctx context.Context) (snap Snapshot, cancelled string, err error) {
	snap.At = w.scheduler.Now()

	state, tr, err := w.rs.Tracker.Refresh(ctx, w.provider)
	if err != nil {
		return snap, "", err
	}
	snap.State = state
	snap.Transition = tr
	snap.StopPending = w.rs.Tracker.StopPending()
	snap.GenerationSeen = w.rs.Tracker.GenerationSeen()

	if cp, ok := w.provider.(CancelProbe); ok {
		stop, err := cp.CancelRequested(ctx)
		if err != nil {
			return snap, "", fmt.Errorf("%w: cancel probe: %v", ErrProbeFailure, err)
		}
		if stop {
			return snap, "ui", nil
		}
	}

	snap.Trailing, err = w.provider.ReadTrailingTextMarkers(ctx)
	if err != nil {
		return snap, "", fmt.Errorf("%w: trailing markers: %v", ErrProbeFailure, err)
	}
	if equalMarker(snap.LastMarker(), w.cfg.StopMarker) {
		return snap, "stop marker", nil
	}

	snap.Resume, err = w.provider.FindActionableSignal(ctx, SignalResumeLink)
	if err != nil {
		return snap, "", fmt.Errorf("%w: resume link: %v", ErrProbeFailure, err)
	}
	snap.ErrorRetry, err = w.provider.FindActionableSignal(ctx, SignalErrorRetry)
	if err != nil {
		return snap, "", fmt.Errorf("%w: error retry: %v", ErrProbeFailure, err)
	}
	snap.Stalled, err = w.detector.IsStalled(ctx, w.provider, snap.Trailing)
	if err != nil {
		return snap, "", err
	}
	return snap, "", nil
}

func (w *Watchdog) probeFailedLocked(err error) {
	w.probeErrors++
	w.lastError = err.Error()
	w.logger().Debug("[Watchdog] probe_failed", "run_id", w.runID, "error", err)
	w.emitEventLocked(events.Event{Type: events.TypeProbeFailed, Error: err.Error()})
}

func (w *Watchdog) applyLocked(ctx context.Context, d Decision) {
	if d.Fires() || d.Halt {
		w.lastDecision = d
	}

	if d.Halt {
		w.cancelJobsLocked()
		w.active = false
		w.epoch++
		w.syncPhaseLocked(d.Reason)
		w.logger().Warn("[Watchdog] budget_exhausted",
			"run_id", w.runID,
			"budget", w.cfg.MaxDuration,
			"error", ErrBudgetExhausted)
		w.emitLocked(events.TypeHalted, d.Reason)
		w.notifyLocked(notify.NewBudgetExhaustedEvent(w.Target, w.cfg.MaxDuration.String()))
		return
	}

	if w.syncPhaseLocked(d.Reason) && w.rs.Phase == PolicySuspended {
		w.logger().Info("[Watchdog] session_ended", "run_id", w.runID, "marker", w.cfg.EndMarker)
		w.notifyLocked(notify.NewSessionEndedEvent(w.Target, w.cfg.EndMarker))
	}
	if !d.Fires() {
		return
	}

	w.actionCounts[d.Tier]++
	w.logger().Info("[Watchdog] action_fired",
		"run_id", w.runID,
		"tier", d.Tier.String(),
		"reason", d.Reason,
		"retry_count", w.rs.RetryCount,
		"simulate_attempts", w.rs.SimulateAttempts)

	switch d.Tier {
	case TierResumeLink, TierErrorRetryClick:
		err := w.provider.Click(ctx, *d.Ref)
		w.recordActionLocked(d, err)
		if err == nil && d.Tier == TierResumeLink {
			w.resetLocked("resume link")
			// the click itself still counts toward inter-action spacing
			w.rs.Cooldowns.Record(WindowSpacing)
		}
	case TierSimulateContinue, TierSimulateEnhanced:
		w.scheduleInjectionLocked(d)
	case TierOperatorAlert:
		w.logger().Warn("[Watchdog] operator_alert", "run_id", w.runID, "error", ErrRemediationCeilingExceeded)
		w.recordActionLocked(d, nil)
		w.notifyLocked(notify.NewOperatorAlertEvent(w.Target, w.cfg.MaxSimulateAttempts, d.Reason))
	}
}

func (w *Watchdog) scheduleInjectionLocked(d Decision) {
	w.nextID++
	id := w.nextID
	epoch := w.epoch
	w.delayed[id] = w.scheduler.After(w.cfg.SettleDelay, func() {
		w.mu.Lock()
		defer w.mu.Unlock()
		delete(w.delayed, id)
		if !w.active || w.epoch != epoch {
			w.logger().Debug("[Watchdog] injection_skipped", "run_id", w.runID, "tier", d.Tier.String())
			return
		}
		ctx, cancel := w.probeContext()
		defer cancel()
		w.recordActionLocked(d, w.provider.InjectText(ctx, d.Text))
	})
}

func (w *Watchdog) recordActionLocked(d Decision, err error) {
	ev := events.Event{
		Type:   events.TypeAction,
		Tier:   d.Tier.String(),
		Reason: d.Reason,
		Text:   d.Text,
	}
	if err != nil {
		err = fmt.Errorf("%w: %s: %v", ErrActionFailure, d.Tier, err)
		w.failures++
		w.lastError = err.Error()
		ev.Type = events.TypeActionFailed
		ev.Error = err.Error()
		w.logger().Warn("[Watchdog] action_failed", "run_id", w.runID, "tier", d.Tier.String(), "error", err)
		w.notifyLocked(notify.NewActionFailedEvent(w.Target, d.Tier.String(), err))
	}
	w.emitEventLocked(ev)
}

func (w *Watchdog) setPhaseLocked(p PolicyState, reason string) {
	w.rs.Phase = p
	w.syncPhaseLocked(reason)
}

// syncPhaseLocked publishes a phase event when the policy state differs from
// the last one published. The policy changes rs.Phase inside Decide.
func (w *Watchdog) syncPhaseLocked(reason string) bool {
	if w.rs.Phase == w.reportedPhase {
		return false
	}
	w.reportedPhase = w.rs.Phase
	w.emitEventLocked(events.Event{Type: events.TypePhase, Reason: reason})
	return true
}

func (w *Watchdog) emitLocked(t events.Type, reason string) {
	w.emitEventLocked(events.Event{Type: t, Reason: reason})
}

func (w *Watchdog) emitEventLocked(ev events.Event) {
	if w.Events == nil {
		return
	}
	ev.Timestamp = w.scheduler.Now()
	ev.RunID = w.runID
	ev.Target = w.Target
	ev.Phase = w.rs.Phase.String()
	ev.State = w.rs.Tracker.Current().String()
	ev.RetryCount = w.rs.RetryCount
	ev.SimulateAttempts = w.rs.SimulateAttempts
	w.Events.Emit(ev)
}

// notifyLocked enqueues ev. Delivery happens on the queue's goroutine.
func (w *Watchdog) notifyLocked(ev notify.Event) {
	if w.Notifier == nil {
		return
	}
	if w.notices == nil {
		w.notices = notify.NewQueue(w.Notifier, noticeBuffer).WithLogger(w.logger())
	}
	ev.RunID = w.runID
	// a full queue is logged by the queue itself
	_ = w.notices.Notify(ev)
}

const noticeBuffer = 32

// Close stops the watchdog and waits for queued notices to be delivered.
func (w *Watchdog) Close() {
	w.mu.Lock()
	w.stopLocked("shutdown")
	q := w.notices
	w.notices = nil
	w.mu.Unlock()
	if q != nil {
		q.Close()
	}
}

// Active reports whether the watchdog is ticking.
func (w *Watchdog) Active() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active
}

// Status is a read-only diagnostic view of the watchdog.
type Status struct {
	RunID            string                   `json:"run_id"`
	Target           string                   `json:"target,omitempty"`
	Active           bool                     `json:"active"`
	Phase            PolicyState              `json:"phase"`
	State            SessionState             `json:"state"`
	PreviousState    SessionState             `json:"previous_state"`
	GenerationSeen   bool                     `json:"generation_seen"`
	StopPending      bool                     `json:"stop_pending"`
	RetryCount       int                      `json:"retry_count"`
	SimulateAttempts int                      `json:"simulate_attempts"`
	StartedAt        time.Time                `json:"started_at"`
	BudgetRemaining  time.Duration            `json:"budget_remaining"`
	Cooldowns        map[string]time.Duration `json:"cooldowns"`
	Actions          map[string]int           `json:"actions"`
	Ticks            int64                    `json:"ticks"`
	ProbeErrors      int64                    `json:"probe_errors"`
	ActionFailures   int64                    `json:"action_failures"`
	PendingActions   int                      `json:"pending_actions"`
	LastDecision     *Decision                `json:"last_decision,omitempty"`
	LastError        string                   `json:"last_error,omitempty"`
	LastTransitionAt time.Time                `json:"last_transition_at,omitempty"`
}

// Status returns current counters and cooldown remaining values.
func (w *Watchdog) Status() Status {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.scheduler.Now()
	remaining := w.rs.StartedAt.Add(w.cfg.MaxDuration).Sub(now)
	if remaining < 0 {
		remaining = 0
	}
	actions := make(map[string]int, len(AllTiers))
	for _, t := range AllTiers {
		actions[t.String()] = w.actionCounts[t]
	}
	st := Status{
		RunID:            w.runID,
		Target:           w.Target,
		Active:           w.active,
		Phase:            w.rs.Phase,
		State:            w.rs.Tracker.Current(),
		PreviousState:    w.rs.Tracker.Previous(),
		GenerationSeen:   w.rs.Tracker.GenerationSeen(),
		StopPending:      w.rs.Tracker.StopPending(),
		RetryCount:       w.rs.RetryCount,
		SimulateAttempts: w.rs.SimulateAttempts,
		StartedAt:        w.rs.StartedAt,
		BudgetRemaining:  remaining,
		Cooldowns:        w.rs.Cooldowns.Snapshot(),
		Actions:          actions,
		Ticks:            w.ticks,
		ProbeErrors:      w.probeErrors,
		ActionFailures:   w.failures,
		PendingActions:   len(w.delayed),
		LastError:        w.lastError,
		LastTransitionAt: w.rs.Tracker.LastTransitionAt(),
	}
	if w.lastDecision.Fires() || w.lastDecision.Halt {
		d := w.lastDecision
		st.LastDecision = &d
	}
	return st
}
