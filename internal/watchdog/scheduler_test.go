package watchdog

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestManualScheduler_OrdersJobs(t *testing.T) {
	m := NewManualScheduler(t0)
	var got []string
	m.After(2*time.Second, func() { got = append(got, "after2") })
	m.Every(time.Second, func() { got = append(got, "tick") })
	m.After(time.Second, func() { got = append(got, "after1") })

	m.Advance(2 * time.Second)
	want := []string{"tick", "after1", "after2", "tick"}
	if len(got) != len(want) {
		t.Fatalf("ran %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("ran %v, want %v", got, want)
		}
	}
	if !m.Now().Equal(t0.Add(2 * time.Second)) {
		t.Errorf("Now() = %v", m.Now())
	}
	if m.Pending() != 1 {
		t.Errorf("Pending() = %d, want 1", m.Pending())
	}
}

func TestManualScheduler_Cancel(t *testing.T) {
	m := NewManualScheduler(t0)
	ran := 0
	tok := m.Every(time.Second, func() { ran++ })
	m.Advance(time.Second)
	tok.Cancel()
	tok.Cancel()
	m.Advance(5 * time.Second)
	if ran != 1 {
		t.Errorf("ran %d times, want 1", ran)
	}
	if m.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", m.Pending())
	}
}

func TestManualScheduler_JobsScheduledDuringAdvance(t *testing.T) {
	m := NewManualScheduler(t0)
	var at []time.Time
	m.After(time.Second, func() {
		m.After(time.Second, func() { at = append(at, m.Now()) })
	})
	m.Advance(3 * time.Second)
	if len(at) != 1 || !at[0].Equal(t0.Add(2*time.Second)) {
		t.Errorf("nested job ran at %v, want once at +2s", at)
	}
}

func TestLoopScheduler_AfterAndCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewLoopScheduler(ctx)

	done := make(chan struct{})
	s.After(10*time.Millisecond, func() { close(done) })

	var cancelled atomic.Bool
	tok := s.After(20*time.Millisecond, func() { cancelled.Store(true) })
	tok.Cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("After callback never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if cancelled.Load() {
		t.Error("cancelled callback ran")
	}
}

func TestLoopScheduler_EveryNeverOverlaps(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	s := NewLoopScheduler(ctx)

	var (
		mu      sync.Mutex
		running int
		overlap bool
		runs    int
	)
	enter := func() {
		mu.Lock()
		running++
		if running > 1 {
			overlap = true
		}
		runs++
		mu.Unlock()
		time.Sleep(5 * time.Millisecond)
		mu.Lock()
		running--
		mu.Unlock()
	}
	a := s.Every(2*time.Millisecond, enter)
	b := s.Every(3*time.Millisecond, enter)
	time.Sleep(100 * time.Millisecond)
	a.Cancel()
	b.Cancel()

	mu.Lock()
	defer mu.Unlock()
	if overlap {
		t.Error("callbacks overlapped")
	}
	if runs == 0 {
		t.Error("periodic callbacks never ran")
	}
}

func TestLoopScheduler_StopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := NewLoopScheduler(ctx)
	cancel()

	var ran atomic.Bool
	s.After(time.Millisecond, func() { ran.Store(true) })
	time.Sleep(30 * time.Millisecond)
	if ran.Load() {
		t.Error("callback ran after the scheduler context ended")
	}
}
