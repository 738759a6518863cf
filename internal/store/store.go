// Package store holds the authoritative in-memory cache of remote workspace
// instances for one host session.
package store

import (
	"log/slog"
	"slices"
	"sync"

	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/models"
)

// Store maps workspace ids to their current instance and notifies subscribers
// after every mutation.
type Store struct {
	logger *slog.Logger

	mu        sync.RWMutex
	order     []string
	instances map[string]models.WorkspaceInstance

	subMu     sync.Mutex
	nextSubID int
	listeners map[int]func()
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		logger:    slog.Default(),
		instances: make(map[string]models.WorkspaceInstance),
		listeners: make(map[int]func()),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SetWorkspaces replaces the whole content with list. Instances without a
// workspace id are dropped; for duplicate ids the last one wins. Subscribers
// are notified once.
func (s *Store) SetWorkspaces(list []models.RemoteInstance) {
	order := make([]string, 0, len(list))
	instances := make(map[string]models.WorkspaceInstance, len(list))
	for _, raw := range list {
		inst, err := models.NewWorkspaceInstance(raw)
		if err != nil {
			s.logger.Debug("dropping workspace instance", "name", raw.Name, "error", err)
			continue
		}
		if _, seen := instances[inst.ID]; !seen {
			order = append(order, inst.ID)
		}
		instances[inst.ID] = inst
	}

	s.mu.Lock()
	s.order = order
	s.instances = instances
	s.checkLocked()
	s.mu.Unlock()

	s.notify()
}

// SetWorkspace inserts or replaces a single instance. id must match the
// instance's own id.
func (s *Store) SetWorkspace(id string, inst models.WorkspaceInstance) error {
	if id == "" {
		return failure.Validation("workspace id is required")
	}
	if inst.ID != id {
		return failure.Validation("workspace id %q does not match instance id %q", id, inst.ID)
	}

	s.mu.Lock()
	if _, ok := s.instances[id]; !ok {
		s.order = append(s.order, id)
	}
	s.instances[id] = inst
	s.mu.Unlock()

	s.notify()
	return nil
}

// Delete removes an instance. Subscribers are only notified if it was present.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	if _, ok := s.instances[id]; !ok {
		s.mu.Unlock()
		return false
	}
	delete(s.instances, id)
	for i, existing := range s.order {
		if existing == id {
			s.order = append(s.order[:i:i], s.order[i+1:]...)
			break
		}
	}
	s.mu.Unlock()

	s.notify()
	return true
}

// Get returns the instance with the given id.
func (s *Store) Get(id string) (models.WorkspaceInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inst, ok := s.instances[id]
	if !ok {
		return models.WorkspaceInstance{}, failure.NotFound("workspace %q not found", id)
	}
	return inst, nil
}

// GetAll returns a snapshot of every instance in store order.
func (s *Store) GetAll() []models.WorkspaceInstance {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.WorkspaceInstance, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.instances[id])
	}
	return out
}

// Len returns the number of instances.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

// Subscribe registers listener to be called after every mutation. The returned
// function removes it and may be called more than once.
func (s *Store) Subscribe(listener func()) (unsubscribe func()) {
	s.subMu.Lock()
	id := s.nextSubID
	s.nextSubID++
	s.listeners[id] = listener
	s.subMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.subMu.Lock()
			delete(s.listeners, id)
			s.subMu.Unlock()
		})
	}
}

func (s *Store) notify() {
	s.subMu.Lock()
	ids := make([]int, 0, len(s.listeners))
	for id := range s.listeners {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	listeners := make([]func(), 0, len(ids))
	for _, id := range ids {
		listeners = append(listeners, s.listeners[id])
	}
	s.subMu.Unlock()

	for _, l := range listeners {
		l()
	}
}

// checkLocked panics if an instance without an id made it into the map.
// NewWorkspaceInstance makes that unreachable.
func (s *Store) checkLocked() {
	if _, ok := s.instances[""]; ok {
		panic("store: workspace instance without id")
	}
}
