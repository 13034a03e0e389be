// Package watcher provides file watching with debouncing using fsnotify.
package watcher

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounceDuration batches editor save bursts into one callback.
const DefaultDebounceDuration = 500 * time.Millisecond

// Op is a simplified file operation.
type Op string

const (
	OpCreate Op = "create"
	OpWrite  Op = "write"
	OpRemove Op = "remove"
	OpRename Op = "rename"
	OpChmod  Op = "chmod"
)

// Event is one observed change.
type Event struct {
	Path string
	Op   Op
	At   time.Time
}

// Handler receives the batch of events collected during one debounce period.
type Handler func(events []Event)

// Option configures a Watcher.
type Option func(*Watcher)

// WithDebounceDuration sets the quiet period before the handler runs.
func WithDebounceDuration(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithFilter drops events whose path fn rejects.
func WithFilter(fn func(path string) bool) Option {
	return func(w *Watcher) {
		w.filter = fn
	}
}

// WithLogger sets the logger for watch errors.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		w.logger = l
	}
}

// Watcher debounces fsnotify events and hands them to a Handler.
type Watcher struct {
	fs       *fsnotify.Watcher
	handler  Handler
	debounce time.Duration
	filter   func(path string) bool
	logger   *slog.Logger

	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
	closed  bool

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a watcher with no paths. Add paths with Add.
func New(handler Handler, opts ...Option) (*Watcher, error) {
	if handler == nil {
		return nil, errors.New("watcher: handler is required")
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	w := &Watcher{
		fs:       fsw,
		handler:  handler,
		debounce: DefaultDebounceDuration,
		logger:   slog.Default(),
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add watches path, a file or a directory (not recursive).
func (w *Watcher) Add(path string) error {
	return w.fs.Add(filepath.Clean(path))
}

// Close stops the watcher. Pending events are discarded.
func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	if w.timer != nil {
		w.timer.Stop()
	}
	w.pending = nil
	w.mu.Unlock()

	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			w.queue(ev)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Warn("[Watcher] fsnotify_error", "error", err)
		}
	}
}

func (w *Watcher) queue(ev fsnotify.Event) {
	if w.filter != nil && !w.filter(ev.Name) {
		return
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.pending = append(w.pending, Event{Path: ev.Name, Op: convertOp(ev.Op), At: time.Now()})
	if w.timer != nil {
		w.timer.Stop()
	}
	w.timer = time.AfterFunc(w.debounce, w.flush)
}

func (w *Watcher) flush() {
	w.mu.Lock()
	if w.closed || len(w.pending) == 0 {
		w.mu.Unlock()
		return
	}
	batch := w.pending
	w.pending = nil
	w.mu.Unlock()

	w.handler(batch)
}

func convertOp(op fsnotify.Op) Op {
	switch {
	case op.Has(fsnotify.Create):
		return OpCreate
	case op.Has(fsnotify.Remove):
		return OpRemove
	case op.Has(fsnotify.Rename):
		return OpRename
	case op.Has(fsnotify.Chmod) && !op.Has(fsnotify.Write):
		return OpChmod
	default:
		return OpWrite
	}
}
