package notify

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
)

// ErrQueueFull is returned when an event is dropped because the queue is
// saturated or closed.
var ErrQueueFull = errors.New("notification queue full")

// Sender delivers one event. *Notifier satisfies it.
type Sender interface {
	Notify(event Event) error
}

// Queue hands events to a Sender from a single worker goroutine, so a slow
// channel never holds up the caller. Delivery order is preserved.
type Queue struct {
	sender Sender
	logger *slog.Logger
	ch     chan Event

	mu       sync.Mutex
	idle     *sync.Cond
	inflight int

	dropped   atomic.Int64
	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewQueue creates a queue in front of s.
func NewQueue(s Sender, buffer int) *Queue {
	if buffer < 1 {
		buffer = 32
	}
	q := &Queue{
		sender: s,
		ch:     make(chan Event, buffer),
		done:   make(chan struct{}),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// WithLogger sets the logger used for delivery failures.
func (q *Queue) WithLogger(l *slog.Logger) *Queue {
	q.logger = l
	return q
}

func (q *Queue) log() *slog.Logger {
	if q.logger != nil {
		return q.logger
	}
	return slog.Default()
}

func (q *Queue) start() {
	q.startOnce.Do(func() {
		go func() {
			defer close(q.done)
			for ev := range q.ch {
				if err := q.sender.Notify(ev); err != nil {
					q.log().Warn("[Notify] delivery_failed", "event", ev.Type, "run_id", ev.RunID, "error", err)
				}
				q.finish()
			}
		}()
	})
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.inflight--
	if q.inflight == 0 {
		q.idle.Broadcast()
	}
	q.mu.Unlock()
}

// Notify enqueues event without blocking. It returns ErrQueueFull when the
// event had to be dropped.
func (q *Queue) Notify(event Event) (err error) {
	q.start()
	q.mu.Lock()
	q.inflight++
	q.mu.Unlock()
	defer func() {
		// Notify after Close sends on a closed channel
		if recover() != nil {
			q.drop(event)
			err = ErrQueueFull
		}
	}()
	select {
	case q.ch <- event:
		return nil
	default:
		q.drop(event)
		return ErrQueueFull
	}
}

func (q *Queue) drop(event Event) {
	q.finish()
	n := q.dropped.Add(1)
	q.log().Warn("[Notify] dropped", "event", event.Type, "dropped", n)
}

// Flush blocks until every event enqueued so far has been delivered or
// dropped.
func (q *Queue) Flush() {
	q.mu.Lock()
	for q.inflight > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Dropped returns the number of events that never reached the sender.
func (q *Queue) Dropped() int64 {
	return q.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be delivered.
func (q *Queue) Close() {
	q.start()
	q.closeOnce.Do(func() {
		close(q.ch)
	})
	<-q.done
}
