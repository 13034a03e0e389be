package events

import (
	"log/slog"
	"sync"
)

// Handler consumes events. Handlers run on the publisher's goroutine and
// must not block for long.
type Handler func(Event)

// Bus fans events out to subscribers and keeps a bounded history.
type Bus struct {
	mu       sync.RWMutex
	nextID   int
	handlers map[int]Handler

	histMu  sync.Mutex
	history []Event
	limit   int
}

// NewBus creates a bus remembering the last historySize events.
func NewBus(historySize int) *Bus {
	if historySize < 0 {
		historySize = 0
	}
	return &Bus{
		handlers: make(map[int]Handler),
		limit:    historySize,
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.handlers, id)
			b.mu.Unlock()
		})
	}
}

// Publish records ev and delivers it to every subscriber. A panicking
// handler is logged and does not affect the others.
func (b *Bus) Publish(ev Event) {
	b.remember(ev)

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		deliver(h, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Default().Error("[EventBus] handler_panic", "event_type", ev.Type, "panic", r)
		}
	}()
	h(ev)
}

func (b *Bus) remember(ev Event) {
	if b.limit == 0 {
		return
	}
	b.histMu.Lock()
	defer b.histMu.Unlock()
	b.history = append(b.history, ev)
	if over := len(b.history) - b.limit; over > 0 {
		b.history = append(b.history[:0], b.history[over:]...)
	}
}

// History returns up to n of the most recent events, oldest first. n <= 0
// returns everything retained.
func (b *Bus) History(n int) []Event {
	b.histMu.Lock()
	defer b.histMu.Unlock()
	start := 0
	if n > 0 && len(b.history) > n {
		start = len(b.history) - n
	}
	out := make([]Event, len(b.history)-start)
	copy(out, b.history[start:])
	return out
}

// Subscribers returns the number of registered handlers.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}
