package history

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/logstream"
	"github.com/nebari-dev/prodesk/internal/models"
)

// Attachment feeds one action's transcript to a consumer. Events arrive on a
// background goroutine, one at a time.
type Attachment struct {
	actionID uuid.UUID
	onEvent  func(command.Event)

	emitMu   sync.Mutex
	detached atomic.Bool
	done     chan struct{}
	detach   func()
}

// ActionID returns the attached action.
func (a *Attachment) ActionID() uuid.UUID { return a.actionID }

// Done is closed after the terminal event was delivered or the attachment was
// detached.
func (a *Attachment) Done() <-chan struct{} { return a.done }

// Detach stops delivery. No event is delivered after it returns, except one
// already in progress. Safe to call from inside the consumer.
func (a *Attachment) Detach() {
	if a.detached.Swap(true) {
		return
	}
	if a.detach != nil {
		a.detach()
	}
}

func (a *Attachment) emit(ev command.Event) bool {
	a.emitMu.Lock()
	defer a.emitMu.Unlock()
	if a.detached.Load() {
		return false
	}
	a.onEvent(ev)
	return true
}

func (a *Attachment) replay(entries []models.LogEntry) bool {
	for _, le := range entries {
		if !a.emit(dataEvent(le)) {
			return false
		}
	}
	return true
}

// Replay delivers the transcript recorded so far, in original order, followed
// by the terminal event of the action (done, or error for a failed action).
func (r *Registry) Replay(actionID uuid.UUID, onEvent func(command.Event)) (*Attachment, error) {
	action, err := r.Get(actionID)
	if err != nil {
		return nil, err
	}

	att := r.newAttachment(actionID, onEvent)
	go func() {
		defer close(att.done)
		if att.replay(action.Transcript) {
			att.emit(terminalEvent(action))
		}
	}()
	return att, nil
}

// Attach delivers the transcript recorded so far and then follows the action
// live until it finishes. The snapshot and the live subscription are taken
// together, so no line is missed or repeated.
func (r *Registry) Attach(actionID uuid.UUID, onEvent func(command.Event)) (*Attachment, error) {
	r.mu.RLock()
	e, ok := r.actions[actionID]
	if !ok {
		r.mu.RUnlock()
		return r.Replay(actionID, onEvent)
	}
	snapshot := e.action.Clone()
	var sub *logstream.Subscriber
	if !snapshot.Terminal() {
		sub = r.broker.Subscribe(actionID)
	}
	r.mu.RUnlock()

	att := r.newAttachment(actionID, onEvent)
	if sub != nil {
		att.detach = func() { r.broker.Unsubscribe(actionID, sub) }
	}

	go func() {
		defer close(att.done)
		if !att.replay(snapshot.Transcript) {
			return
		}
		if sub != nil {
			for le := range sub.C() {
				if !att.emit(dataEvent(le)) {
					return
				}
			}
			if att.detached.Load() {
				return
			}
			final, err := r.Get(actionID)
			if err != nil {
				return
			}
			snapshot = final
		}
		att.emit(terminalEvent(snapshot))
	}()
	return att, nil
}

func (r *Registry) newAttachment(actionID uuid.UUID, onEvent func(command.Event)) *Attachment {
	return &Attachment{
		actionID: actionID,
		onEvent:  onEvent,
		done:     make(chan struct{}),
	}
}

func dataEvent(le models.LogEntry) command.Event {
	return command.Event{
		Type:   command.EventData,
		Stream: command.StreamName(le.Stream),
		Data:   []byte(le.Line),
		Time:   le.Time,
	}
}

func terminalEvent(a *models.Action) command.Event {
	at := a.StartedAt
	if a.FinishedAt != nil {
		at = *a.FinishedAt
	}
	if a.Status == models.ActionError {
		return command.Event{Type: command.EventError, Err: errors.New(a.Error), Time: at}
	}
	return command.Event{Type: command.EventDone, Time: at}
}

// Viewer is one visible log consumer. It shows at most one action at a time.
type Viewer struct {
	r       *Registry
	onEvent func(command.Event)
	clear   func()

	mu      sync.Mutex
	current *Attachment
}

// NewViewer creates a Viewer. clear is called before a new action is shown so
// the consumer can drop the previous output; it may be nil.
func (r *Registry) NewViewer(onEvent func(command.Event), clear func()) *Viewer {
	return &Viewer{r: r, onEvent: onEvent, clear: clear}
}

// Show detaches the previous action and attaches to actionID.
func (v *Viewer) Show(actionID uuid.UUID) (*Attachment, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.current != nil {
		v.current.Detach()
		v.current = nil
	}
	if v.clear != nil {
		v.clear()
	}

	att, err := v.r.Attach(actionID, v.onEvent)
	if err != nil {
		return nil, err
	}
	v.current = att
	return att, nil
}

// Close detaches the current action, if any.
func (v *Viewer) Close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.current != nil {
		v.current.Detach()
		v.current = nil
	}
}
