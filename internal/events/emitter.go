package events

import (
	"log/slog"
	"sync"
	"sync/atomic"
)

// Emitter publishes events to a Bus from a single worker goroutine.
//
// Emit never blocks the caller; when the buffer is full the event is
// dropped and counted.
type Emitter struct {
	bus *Bus
	ch  chan Event

	dropped atomic.Int64

	startOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

// NewEmitter creates an emitter for bus.
func NewEmitter(bus *Bus, buffer int) *Emitter {
	if buffer < 1 {
		buffer = 256
	}
	return &Emitter{
		bus:  bus,
		ch:   make(chan Event, buffer),
		done: make(chan struct{}),
	}
}

// Start launches the publisher loop (idempotent).
func (e *Emitter) Start() {
	e.startOnce.Do(func() {
		go func() {
			defer close(e.done)
			for ev := range e.ch {
				e.bus.Publish(ev)
			}
		}()
	})
}

// Emit enqueues ev for publishing, dropping it if the buffer is full.
func (e *Emitter) Emit(ev Event) {
	e.Start()
	defer func() {
		// Emit after Close sends on a closed channel
		if recover() != nil {
			e.dropped.Add(1)
		}
	}()
	select {
	case e.ch <- ev:
	default:
		n := e.dropped.Add(1)
		if n == 1 || n%1000 == 0 {
			slog.Default().Debug("[EventEmitter] dropped events (buffer full)", "dropped", n, "event_type", ev.Type)
		}
	}
}

// Dropped returns the number of dropped events.
func (e *Emitter) Dropped() int64 {
	return e.dropped.Load()
}

// Close stops accepting events and waits for queued ones to be published.
func (e *Emitter) Close() {
	e.Start()
	e.closeOnce.Do(func() {
		close(e.ch)
	})
	<-e.done
}
