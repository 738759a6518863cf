package history

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/nebari-dev/prodesk/internal/command"
	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

// Run is a tracked action whose command is executing.
type Run struct {
	id   uuid.UUID
	cmd  *command.Command
	done <-chan struct{}
	r    *Registry
}

// ActionID returns the id of the tracked action.
func (run *Run) ActionID() uuid.UUID { return run.id }

// Done is closed once the action is terminal and saved.
func (run *Run) Done() <-chan struct{} { return run.done }

// Cancel cancels the underlying command. The action ends up cancelled.
func (run *Run) Cancel() { run.cmd.Cancel() }

// Wait blocks until the action is terminal and returns it. A cancelled or
// failed action is not an error here; inspect its Status.
func (run *Run) Wait(ctx context.Context) (*models.Action, error) {
	select {
	case <-run.done:
		return run.r.Get(run.id)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Track starts cmd for a pending action. Every output line is appended to
// the transcript and published live; the action becomes success, error or
// cancelled when the command ends.
func (r *Registry) Track(action *models.Action, cmd *command.Command) (*Run, error) {
	r.mu.Lock()
	e, ok := r.actions[action.ID]
	if !ok {
		r.mu.Unlock()
		return nil, failure.NotFound("action %s not found", action.ID)
	}
	if e.action.Status != models.ActionPending {
		r.mu.Unlock()
		return nil, failure.Validation("action %s is %s, not pending", action.ID, e.action.Status)
	}
	e.action.Status = models.ActionRunning
	snapshot := e.action.Clone()
	r.mu.Unlock()

	r.save(snapshot)
	r.logger.Info("Action started", "action_id", action.ID, "kind", action.Kind, "command", cmd.Spec().String())

	stopFlushing := make(chan struct{})
	flushed := make(chan struct{})
	go r.flushTranscript(action.ID, stopFlushing, flushed)

	run := &Run{id: action.ID, cmd: cmd, done: e.done, r: r}
	finish := func(err error) {
		close(stopFlushing)
		<-flushed
		r.finalize(action.ID, err)
	}

	err := cmd.Stream(func(ev command.Event) {
		if ev.Type == command.EventData {
			r.append(action.ID, models.LogEntry{Stream: string(ev.Stream), Line: ev.Text(), Time: ev.Time})
		}
	})
	if err != nil {
		go finish(err)
		return run, nil
	}

	// A cancelled command emits no terminal event, so completion is taken from
	// Done. Every data line has been handed over by the time Done closes.
	go func() {
		<-cmd.Done()
		finish(cmd.Err())
	}()
	return run, nil
}

func (r *Registry) append(id uuid.UUID, le models.LogEntry) {
	if le.Time.IsZero() {
		le.Time = r.now()
	}

	r.mu.Lock()
	e, ok := r.actions[id]
	if !ok || e.action.Terminal() {
		r.mu.Unlock()
		return
	}
	e.action.Transcript = append(e.action.Transcript, le)
	r.broker.Publish(id, le)
	r.mu.Unlock()

	if r.mirror != nil {
		if err := r.mirror.Append(context.Background(), id, le); err != nil {
			r.logger.Warn("Failed to mirror log line", "action_id", id, "error", err)
		}
	}
}

func (r *Registry) finalize(id uuid.UUID, err error) {
	r.mu.Lock()
	e, ok := r.actions[id]
	if !ok || e.action.Terminal() {
		r.mu.Unlock()
		return
	}
	finished := r.now()
	e.action.FinishedAt = &finished
	switch {
	case err == nil:
		e.action.Status = models.ActionSuccess
	case failure.IsCancelled(err):
		e.action.Status = models.ActionCancelled
	default:
		e.action.Status = models.ActionError
		e.action.Error = err.Error()
	}
	snapshot := e.action.Clone()
	r.broker.Close(id)
	r.mu.Unlock()

	r.save(snapshot)
	if r.mirror != nil {
		if err := r.mirror.Complete(context.Background(), id, snapshot.Status); err != nil {
			r.logger.Warn("Failed to complete mirrored transcript", "action_id", id, "error", err)
		}
	}
	close(e.done)

	if snapshot.Status == models.ActionError {
		r.logger.Error("Action failed", "action_id", id, "kind", snapshot.Kind, "error", snapshot.Error)
	} else {
		r.logger.Info("Action finished", "action_id", id, "kind", snapshot.Kind, "status", snapshot.Status)
	}
}

// flushTranscript periodically saves the running transcript to the database
func (r *Registry) flushTranscript(id uuid.UUID, stop <-chan struct{}, flushed chan<- struct{}) {
	defer close(flushed)
	if r.db == nil {
		<-stop
		return
	}

	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a, err := r.Get(id)
			if err != nil {
				return
			}
			if err := r.db.Model(&models.Action{ID: id}).Select("transcript").Updates(&models.Action{Transcript: a.Transcript}).Error; err != nil {
				r.logger.Error("Failed to flush transcript to database", "action_id", id, "error", err)
			}
		case <-stop:
			return
		}
	}
}

func (r *Registry) save(a *models.Action) {
	if r.db == nil {
		return
	}
	if err := r.db.Save(a).Error; err != nil {
		r.logger.Error("Failed to save action", "action_id", a.ID, "error", err)
	}
}
