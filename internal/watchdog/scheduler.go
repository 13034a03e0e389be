package watchdog

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

// Token cancels a scheduled job. Cancel is idempotent.
type Token interface {
	Cancel()
}

// Scheduler runs periodic and one-shot callbacks on a single logical thread.
type Scheduler interface {
	Clock
	Every(interval time.Duration, fn func()) Token
	After(delay time.Duration, fn func()) Token
}

type cancelToken struct {
	cancelled atomic.Bool
	once      sync.Once
	stop      chan struct{}
}

func newCancelToken() *cancelToken {
	return &cancelToken{stop: make(chan struct{})}
}

func (t *cancelToken) Cancel() {
	t.once.Do(func() {
		t.cancelled.Store(true)
		close(t.stop)
	})
}

func (t *cancelToken) Cancelled() bool {
	return t.cancelled.Load()
}

// LoopScheduler is the production Scheduler. Timers run on their own
// goroutines but every callback is executed by one runner goroutine, so
// callbacks never overlap. A periodic job whose previous run is still queued
// is skipped rather than stacked.
type LoopScheduler struct {
	tasks chan func()
	done  <-chan struct{}
}

// NewLoopScheduler starts the runner. It stops when ctx is done.
func NewLoopScheduler(ctx context.Context) *LoopScheduler {
	s := &LoopScheduler{
		tasks: make(chan func(), 16),
		done:  ctx.Done(),
	}
	go s.run()
	return s
}

func (s *LoopScheduler) run() {
	for {
		select {
		case <-s.done:
			return
		case fn := <-s.tasks:
			select {
			case <-s.done:
				return
			default:
			}
			fn()
		}
	}
}

// Now returns the wall clock time.
func (s *LoopScheduler) Now() time.Time {
	return time.Now()
}

// Every runs fn every interval until the token is cancelled.
func (s *LoopScheduler) Every(interval time.Duration, fn func()) Token {
	tok := newCancelToken()
	if interval <= 0 {
		tok.Cancel()
		return tok
	}

	var queued atomic.Bool
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.done:
				return
			case <-tok.stop:
				return
			case <-ticker.C:
				if !queued.CompareAndSwap(false, true) {
					continue
				}
				s.post(tok, func() {
					queued.Store(false)
					fn()
				})
			}
		}
	}()
	return tok
}

// After runs fn once after delay unless the token is cancelled first.
func (s *LoopScheduler) After(delay time.Duration, fn func()) Token {
	tok := newCancelToken()
	go func() {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-s.done:
		case <-tok.stop:
		case <-timer.C:
			s.post(tok, fn)
		}
	}()
	return tok
}

func (s *LoopScheduler) post(tok *cancelToken, fn func()) {
	select {
	case <-s.done:
	case <-tok.stop:
	case s.tasks <- func() {
		if tok.Cancelled() {
			return
		}
		fn()
	}:
	}
}

// ManualScheduler is a deterministic Scheduler for tests and dry runs. Time
// only moves when Advance is called.
type ManualScheduler struct {
	mu   sync.Mutex
	now  time.Time
	seq  int
	jobs []*manualJob
}

type manualJob struct {
	due   time.Time
	every time.Duration
	seq   int
	fn    func()
	tok   *cancelToken
}

// NewManualScheduler returns a scheduler whose clock starts at start.
func NewManualScheduler(start time.Time) *ManualScheduler {
	return &ManualScheduler{now: start}
}

// Now returns the scheduler's virtual time.
func (m *ManualScheduler) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.now
}

func (m *ManualScheduler) add(d, every time.Duration, fn func()) Token {
	tok := newCancelToken()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	m.jobs = append(m.jobs, &manualJob{due: m.now.Add(d), every: every, seq: m.seq, fn: fn, tok: tok})
	return tok
}

// Every schedules fn at now+interval and every interval after that.
func (m *ManualScheduler) Every(interval time.Duration, fn func()) Token {
	if interval <= 0 {
		tok := newCancelToken()
		tok.Cancel()
		return tok
	}
	return m.add(interval, interval, fn)
}

// After schedules fn once at now+delay.
func (m *ManualScheduler) After(delay time.Duration, fn func()) Token {
	return m.add(delay, 0, fn)
}

// Advance moves the clock forward by d, running every job that falls due in
// time order. Jobs due at the same instant run in scheduling order.
func (m *ManualScheduler) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.mu.Lock()
		job := m.nextDueLocked(target)
		if job == nil {
			m.now = target
			m.mu.Unlock()
			return
		}
		m.now = job.due
		if job.every > 0 {
			job.due = job.due.Add(job.every)
		} else {
			m.removeLocked(job)
		}
		m.mu.Unlock()

		job.fn()
	}
}

// Pending returns the number of live scheduled jobs.
func (m *ManualScheduler) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, j := range m.jobs {
		if !j.tok.Cancelled() {
			n++
		}
	}
	return n
}

func (m *ManualScheduler) nextDueLocked(target time.Time) *manualJob {
	live := m.jobs[:0]
	for _, j := range m.jobs {
		if !j.tok.Cancelled() {
			live = append(live, j)
		}
	}
	m.jobs = live
	if len(m.jobs) == 0 {
		return nil
	}
	sort.SliceStable(m.jobs, func(i, k int) bool {
		if m.jobs[i].due.Equal(m.jobs[k].due) {
			return m.jobs[i].seq < m.jobs[k].seq
		}
		return m.jobs[i].due.Before(m.jobs[k].due)
	})
	if m.jobs[0].due.After(target) {
		return nil
	}
	return m.jobs[0]
}

func (m *ManualScheduler) removeLocked(job *manualJob) {
	for i, j := range m.jobs {
		if j == job {
			m.jobs = append(m.jobs[:i], m.jobs[i+1:]...)
			return
		}
	}
}
