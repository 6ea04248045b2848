package watcher

import (
	"fmt"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// EventType represents the type of file system event
type EventType string

const (
	EventCreate EventType = "create"
	EventModify EventType = "modify"
	EventDelete EventType = "delete"
	EventRename EventType = "rename"
)

// Event represents a file system event
type Event struct {
	Path string
	Type EventType
}

// Option configures a Watcher
type Option func(*Watcher)

// WithLogger sets the logger used for fsnotify errors
func WithLogger(logger *zap.Logger) Option {
	return func(w *Watcher) {
		w.log = logger
	}
}

// Coalesce makes every path share one debounce timer. The callback then fires once
// per burst with the last event of the burst.
func Coalesce() Option {
	return func(w *Watcher) {
		w.coalesce = true
	}
}

// Watcher watches a directory for file system events with debouncing
type Watcher struct {
	path     string
	debounce time.Duration
	callback func(Event)
	coalesce bool
	log      *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}
	started bool
	closed  bool
	mu      sync.Mutex

	timers  map[string]*time.Timer
	pending map[string]Event
	timerMu sync.Mutex
}

// New creates a Watcher for path. Call Start to begin delivering events.
func New(path string, debounce time.Duration, callback func(Event), opts ...Option) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch path %s: %w", path, err)
	}

	w := &Watcher{
		path:     path,
		debounce: debounce,
		callback: callback,
		log:      zap.NewNop(),
		watcher:  fsw,
		done:     make(chan struct{}),
		timers:   make(map[string]*time.Timer),
		pending:  make(map[string]Event),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Start starts watching for events
func (w *Watcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("watcher is closed")
	}
	if w.started {
		return fmt.Errorf("watcher already started")
	}
	w.started = true

	go w.loop()
	return nil
}

// Close stops watching and cancels pending callbacks. It is safe to call twice.
func (w *Watcher) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.started {
		close(w.done)
	}

	w.timerMu.Lock()
	for _, timer := range w.timers {
		timer.Stop()
	}
	w.timers = make(map[string]*time.Timer)
	w.pending = make(map[string]Event)
	w.timerMu.Unlock()

	return w.watcher.Close()
}

func (w *Watcher) loop() {
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if e, ok := translate(event); ok {
				w.schedule(e)
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", zap.String("path", w.path), zap.Error(err))

		case <-w.done:
			return
		}
	}
}

func translate(event fsnotify.Event) (Event, bool) {
	e := Event{Path: event.Name}
	switch {
	case event.Op.Has(fsnotify.Create):
		e.Type = EventCreate
	case event.Op.Has(fsnotify.Write):
		e.Type = EventModify
	case event.Op.Has(fsnotify.Remove):
		e.Type = EventDelete
	case event.Op.Has(fsnotify.Rename):
		e.Type = EventRename
	default:
		return e, false
	}
	return e, true
}

// schedule restarts the debounce timer of the event's key
func (w *Watcher) schedule(e Event) {
	key := e.Path
	if w.coalesce {
		key = ""
	}

	w.timerMu.Lock()
	defer w.timerMu.Unlock()

	if timer, exists := w.timers[key]; exists {
		timer.Stop()
	}
	if prev, exists := w.pending[key]; exists {
		e = merge(prev, e)
	}
	w.pending[key] = e

	w.timers[key] = time.AfterFunc(w.debounce, func() {
		w.timerMu.Lock()
		fired, ok := w.pending[key]
		delete(w.timers, key)
		delete(w.pending, key)
		w.timerMu.Unlock()

		if ok {
			w.callback(fired)
		}
	})
}

// merge folds next into a pending event. A create followed by writes to the
// same path is still reported as a create.
func merge(prev, next Event) Event {
	if prev.Path == next.Path && prev.Type == EventCreate && next.Type == EventModify {
		return prev
	}
	return next
}
