// Package watch keeps at most one live workspace-list stream per key.
package watch

import (
	"log/slog"
	"sync"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

// IssueFunc builds the streaming command for a key. It must return a fresh,
// not yet started Command on every call.
type IssueFunc func(key string) *command.Command

// UpdateFunc receives one full snapshot, sorted newest activity first.
type UpdateFunc func(instances []models.RemoteInstance)

// ErrorFunc receives every failure except cancellation. The watch does not
// retry; that is up to the caller.
type ErrorFunc func(err error)

// Watcher tracks the active subscription of every key.
type Watcher struct {
	issue  IssueFunc
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]*Subscription
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// New creates a Watcher that issues commands with issue.
func New(issue IssueFunc, opts ...Option) *Watcher {
	w := &Watcher{
		issue:  issue,
		logger: slog.Default(),
		active: make(map[string]*Subscription),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Subscription is one live watch. The caller owns it and must Cancel it on
// teardown.
type Subscription struct {
	key     string
	cmd     *command.Command
	watcher *Watcher
	once    sync.Once
}

// Key returns the watch key.
func (s *Subscription) Key() string { return s.key }

// Done is closed once the underlying stream ended.
func (s *Subscription) Done() <-chan struct{} { return s.cmd.Done() }

// Cancel stops the stream. It is idempotent; no callback starts after it
// returns.
func (s *Subscription) Cancel() {
	s.once.Do(func() {
		s.cmd.Cancel()
		s.watcher.release(s)
	})
}

// Start cancels any previous watch for key and starts a new one. Every data
// line of the stream is one JSON snapshot; it is decoded, sorted and handed to
// onUpdate. A line that fails to decode is reported to onError and the stream
// keeps going.
func (w *Watcher) Start(key string, onUpdate UpdateFunc, onError ErrorFunc) *Subscription {
	sub := &Subscription{key: key, watcher: w}

	w.mu.Lock()
	prev := w.active[key]
	sub.cmd = w.issue(key)
	w.active[key] = sub
	w.mu.Unlock()

	if prev != nil {
		prev.cmd.Cancel()
		w.logger.Debug("replaced watch", "key", key)
	}

	report := func(err error) {
		if err == nil || failure.IsCancelled(err) {
			return
		}
		if onError != nil {
			onError(err)
		}
	}

	err := sub.cmd.Stream(func(ev command.Event) {
		switch ev.Type {
		case command.EventData:
			if ev.Stream != command.Stdout {
				w.logger.Debug("watch stderr", "key", key, "line", ev.Text())
				return
			}
			instances, err := models.DecodeInstances(ev.Data)
			if err != nil {
				report(err)
				return
			}
			models.SortByLastActivity(instances)
			onUpdate(instances)
		case command.EventError:
			w.release(sub)
			report(ev.Err)
		case command.EventDone:
			w.release(sub)
		}
	})
	if err != nil {
		w.release(sub)
		report(err)
	}
	return sub
}

// Active reports whether key has a live subscription.
func (w *Watcher) Active(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.active[key]
	return ok
}

// Close cancels every subscription.
func (w *Watcher) Close() {
	w.mu.Lock()
	subs := make([]*Subscription, 0, len(w.active))
	for _, sub := range w.active {
		subs = append(subs, sub)
	}
	w.mu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
	}
}

func (w *Watcher) release(sub *Subscription) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.active[sub.key] == sub {
		delete(w.active, sub.key)
	}
}
