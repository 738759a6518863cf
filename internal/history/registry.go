// Package history records lifecycle actions against workspace instances and
// lets log views replay or follow their transcripts.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/logstream"
	"github.com/nebari-dev/prodesk/internal/models"
)

const (
	DefaultFlushInterval   = 2 * time.Second
	DefaultMaxPerWorkspace = 50
)

// entry is the registry's private record of one action.
type entry struct {
	action *models.Action
	seq    uint64
	done   chan struct{}
}

// Registry owns every known action. All transcript appends go through it so a
// snapshot plus a live subscription never miss or repeat a line.
type Registry struct {
	db              *gorm.DB
	broker          *logstream.Broker
	mirror          logstream.Mirror
	logger          *slog.Logger
	now             func() time.Time
	flushInterval   time.Duration
	maxPerWorkspace int

	mu      sync.RWMutex
	seq     uint64
	actions map[uuid.UUID]*entry
}

// Option configures a Registry.
type Option func(*Registry)

// WithDB persists actions and their transcripts.
func WithDB(db *gorm.DB) Option {
	return func(r *Registry) { r.db = db }
}

// WithBroker sets the broker used for live attachments.
func WithBroker(b *logstream.Broker) Option {
	return func(r *Registry) {
		if b != nil {
			r.broker = b
		}
	}
}

// WithMirror copies every transcript line to m.
func WithMirror(m logstream.Mirror) Option {
	return func(r *Registry) { r.mirror = m }
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// WithFlushInterval sets how often a running transcript is saved.
func WithFlushInterval(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.flushInterval = d
		}
	}
}

// WithMaxPerWorkspace bounds how many finished actions are kept per workspace.
func WithMaxPerWorkspace(n int) Option {
	return func(r *Registry) {
		if n > 0 {
			r.maxPerWorkspace = n
		}
	}
}

// New creates a Registry.
func New(opts ...Option) *Registry {
	r := &Registry{
		broker:          logstream.NewBroker(),
		logger:          slog.Default(),
		now:             time.Now,
		flushInterval:   DefaultFlushInterval,
		maxPerWorkspace: DefaultMaxPerWorkspace,
		actions:         make(map[uuid.UUID]*entry),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Broker returns the broker live lines are published on.
func (r *Registry) Broker() *logstream.Broker { return r.broker }

// Begin records a pending action. It must be called before the action's
// command is issued.
func (r *Registry) Begin(ctx context.Context, workspaceID string, kind models.ActionKind) (*models.Action, error) {
	if workspaceID == "" {
		return nil, failure.Validation("workspace id is required")
	}
	if !kind.Valid() {
		return nil, failure.Validation("unknown action kind %q", kind)
	}

	action := &models.Action{
		ID:          uuid.New(),
		WorkspaceID: workspaceID,
		Kind:        kind,
		Status:      models.ActionPending,
		StartedAt:   r.now(),
	}
	if r.db != nil {
		if err := r.db.WithContext(ctx).Create(action).Error; err != nil {
			return nil, fmt.Errorf("failed to create action: %w", err)
		}
	}

	r.mu.Lock()
	r.seq++
	r.actions[action.ID] = &entry{action: action, seq: r.seq, done: make(chan struct{})}
	out := action.Clone()
	r.mu.Unlock()

	r.logger.Info("Action recorded", "action_id", action.ID, "workspace_id", workspaceID, "kind", kind)
	return out, nil
}

// Get returns a copy of an action.
func (r *Registry) Get(id uuid.UUID) (*models.Action, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.actions[id]
	if !ok {
		return nil, failure.NotFound("action %s not found", id)
	}
	return e.action.Clone(), nil
}

// List returns the actions of a workspace, most recent start first. Pending
// actions are included. An empty workspaceID lists every workspace.
func (r *Registry) List(workspaceID string) []*models.Action {
	return r.collect(workspaceID, true)
}

// Feed is List without pending actions, for historical views.
func (r *Registry) Feed(workspaceID string) []*models.Action {
	return r.collect(workspaceID, false)
}

func (r *Registry) collect(workspaceID string, withPending bool) []*models.Action {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.actions))
	for _, e := range r.actions {
		if workspaceID != "" && e.action.WorkspaceID != workspaceID {
			continue
		}
		if !withPending && e.action.Status == models.ActionPending {
			continue
		}
		entries = append(entries, e)
	}
	sortRecentFirst(entries)
	out := make([]*models.Action, len(entries))
	for i, e := range entries {
		out[i] = e.action.Clone()
	}
	r.mu.RUnlock()
	return out
}

func sortRecentFirst(entries []*entry) {
	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if !a.action.StartedAt.Equal(b.action.StartedAt) {
			return a.action.StartedAt.After(b.action.StartedAt)
		}
		return a.seq > b.seq
	})
}

// Selection is the action a log view should show.
type Selection struct {
	Action *models.Action
	// Poll is set when the most recent action has not started yet; the caller
	// should retry instead of falling back to an older action.
	Poll bool
}

// Select picks the action to show for a workspace. An explicit requestedID
// wins; otherwise the most recent action is chosen.
func (r *Registry) Select(workspaceID string, requestedID uuid.UUID) (Selection, error) {
	if requestedID != uuid.Nil {
		a, err := r.Get(requestedID)
		if err != nil {
			return Selection{}, err
		}
		if workspaceID != "" && a.WorkspaceID != workspaceID {
			return Selection{}, failure.NotFound("action %s not found for workspace %q", requestedID, workspaceID)
		}
		return Selection{Action: a, Poll: a.Status == models.ActionPending}, nil
	}

	list := r.List(workspaceID)
	if len(list) == 0 {
		return Selection{}, failure.NotFound("no actions for workspace %q", workspaceID)
	}
	latest := list[0]
	return Selection{Action: latest, Poll: latest.Status == models.ActionPending}, nil
}

// Load restores persisted actions. Actions that were still pending or running
// when the previous process exited are marked cancelled.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.db == nil {
		return 0, nil
	}

	var actions []models.Action
	if err := r.db.WithContext(ctx).Order("started_at ASC").Find(&actions).Error; err != nil {
		return 0, fmt.Errorf("failed to load actions: %w", err)
	}

	loaded := 0
	for i := range actions {
		a := &actions[i]
		if !a.Terminal() {
			finished := r.now()
			a.Status = models.ActionCancelled
			a.FinishedAt = &finished
			a.Error = "interrupted"
			if err := r.db.WithContext(ctx).Save(a).Error; err != nil {
				r.logger.Error("Failed to mark interrupted action", "action_id", a.ID, "error", err)
			}
		}

		r.mu.Lock()
		if _, exists := r.actions[a.ID]; !exists {
			r.seq++
			e := &entry{action: a, seq: r.seq, done: make(chan struct{})}
			close(e.done)
			r.actions[a.ID] = e
			loaded++
		}
		r.mu.Unlock()
	}
	return loaded, nil
}

// Prune drops the oldest finished actions of every workspace beyond the
// configured maximum.
func (r *Registry) Prune(ctx context.Context) (int, error) {
	r.mu.Lock()
	byWorkspace := make(map[string][]*entry)
	for _, e := range r.actions {
		if e.action.Terminal() {
			byWorkspace[e.action.WorkspaceID] = append(byWorkspace[e.action.WorkspaceID], e)
		}
	}
	var victims []uuid.UUID
	for _, entries := range byWorkspace {
		if len(entries) <= r.maxPerWorkspace {
			continue
		}
		sortRecentFirst(entries)
		for _, e := range entries[r.maxPerWorkspace:] {
			victims = append(victims, e.action.ID)
			delete(r.actions, e.action.ID)
		}
	}
	r.mu.Unlock()

	if len(victims) == 0 || r.db == nil {
		return len(victims), nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", victims).Delete(&models.Action{}).Error; err != nil {
		return len(victims), fmt.Errorf("failed to prune actions: %w", err)
	}
	return len(victims), nil
}
