package watchdog

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Dicklesworthstone/keepalive/internal/events"
	"github.com/Dicklesworthstone/keepalive/internal/notify"
)

var t0 = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// fakeProvider answers every probe from its fields, so repeated probes within
// one instant agree.
type fakeProvider struct {
	mu sync.Mutex

	state     SessionState
	stateErr  error
	resume    *ControlRef
	retry     *ControlRef
	signalErr error
	trailing  []string
	noProg    []string
	cancel    bool

	clickErr  error
	injectErr error

	clicks   []ControlRef
	injected []string
	probes   int
}

func (f *fakeProvider) ProbeSessionState(ctx context.Context) (SessionState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes++
	if f.stateErr != nil {
		return StateUndetermined, f.stateErr
	}
	return f.state, nil
}

func (f *fakeProvider) FindActionableSignal(ctx context.Context, kind SignalKind) (*ControlRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.signalErr != nil {
		return nil, f.signalErr
	}
	if kind == SignalResumeLink {
		return f.resume, nil
	}
	return f.retry, nil
}

func (f *fakeProvider) Click(ctx context.Context, ref ControlRef) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clicks = append(f.clicks, ref)
	return f.clickErr
}

func (f *fakeProvider) InjectText(ctx context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.injected = append(f.injected, text)
	return f.injectErr
}

func (f *fakeProvider) ReadTrailingTextMarkers(ctx context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.trailing...), nil
}

func (f *fakeProvider) CountNoProgressMarkers(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.noProg), nil
}

func (f *fakeProvider) ReadLastTwoNoProgressMarkers(ctx context.Context) (string, string, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := len(f.noProg)
	if n < 2 {
		return "", "", false, nil
	}
	return f.noProg[n-2], f.noProg[n-1], true, nil
}

func (f *fakeProvider) set(fn func(f *fakeProvider)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	fn(f)
}

func (f *fakeProvider) counts() (clicks, injected int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.clicks), len(f.injected)
}

// cancellingProvider adds the optional stop gesture probe.
type cancellingProvider struct {
	*fakeProvider
}

func (c cancellingProvider) CancelRequested(ctx context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancel, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recordingNotifier) Notify(ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingNotifier) types() []notify.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingSink) Emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingSink) count(t events.Type) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, ev := range r.events {
		if ev.Type == t {
			n++
		}
	}
	return n
}

type harness struct {
	w        *Watchdog
	p        *fakeProvider
	sched    *ManualScheduler
	notifier *recordingNotifier
	sink     *recordingSink
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("test config invalid: %v", err)
	}
	h := &harness{
		p:        &fakeProvider{state: StateReady},
		sched:    NewManualScheduler(t0),
		notifier: &recordingNotifier{},
		sink:     &recordingSink{},
	}
	h.w = New(cfg, h.p, h.sched).
		WithNotifier(h.notifier).
		WithEvents(h.sink).
		WithTarget("test").
		WithRunID("run-test")
	return h
}

// flushNotices waits until queued notices reached the notifier.
func (h *harness) flushNotices() {
	h.w.mu.Lock()
	q := h.w.notices
	h.w.mu.Unlock()
	if q != nil {
		q.Flush()
	}
}

// step advances the clock one second at a time.
func (h *harness) step(n int) {
	for i := 0; i < n; i++ {
		h.sched.Advance(time.Second)
	}
}

func (h *harness) totalActions() int {
	total := 0
	for _, n := range h.w.Status().Actions {
		total += n
	}
	return total
}
