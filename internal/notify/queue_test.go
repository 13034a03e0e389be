package notify

import (
	"errors"
	"sync"
	"testing"
	"time"
)

type gatedSender struct {
	mu      sync.Mutex
	release chan struct{}
	got     []EventType
	err     error
}

func (g *gatedSender) Notify(ev Event) error {
	if g.release != nil {
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.got = append(g.got, ev.Type)
	return g.err
}

func (g *gatedSender) types() []EventType {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]EventType(nil), g.got...)
}

func TestQueue_NotifyDoesNotBlock(t *testing.T) {
	s := &gatedSender{release: make(chan struct{})}
	q := NewQueue(s, 4)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 3; i++ {
			if err := q.Notify(Event{Type: EventActionFailed}); err != nil {
				t.Errorf("Notify() = %v", err)
			}
		}
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked behind a slow sender")
	}

	close(s.release)
	q.Flush()
	if got := len(s.types()); got != 3 {
		t.Errorf("delivered %d events, want 3", got)
	}
	q.Close()
}

func TestQueue_PreservesOrder(t *testing.T) {
	s := &gatedSender{}
	q := NewQueue(s, 8)
	want := []EventType{EventActionFailed, EventOperatorAlert, EventSessionEnded}
	for _, typ := range want {
		q.Notify(Event{Type: typ})
	}
	q.Close()

	got := s.types()
	if len(got) != len(want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestQueue_DropsWhenFull(t *testing.T) {
	s := &gatedSender{release: make(chan struct{})}
	q := NewQueue(s, 1)

	var full int
	for i := 0; i < 5; i++ {
		if err := q.Notify(Event{Type: EventActionFailed}); errors.Is(err, ErrQueueFull) {
			full++
		}
	}
	if full == 0 || q.Dropped() != int64(full) {
		t.Errorf("full errors = %d, Dropped() = %d", full, q.Dropped())
	}

	close(s.release)
	q.Flush()
	q.Close()
	if err := q.Notify(Event{Type: EventActionFailed}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("Notify after Close = %v, want ErrQueueFull", err)
	}
}

func TestQueue_SenderErrorsAreAbsorbed(t *testing.T) {
	s := &gatedSender{err: errors.New("webhook down")}
	q := NewQueue(s, 2)
	if err := q.Notify(Event{Type: EventOperatorAlert}); err != nil {
		t.Fatalf("Notify() = %v", err)
	}
	q.Close()
	if len(s.types()) != 1 {
		t.Error("event was not handed to the sender")
	}
}
