// Package session ties one host together: who is logged in, which project is
// selected, the live workspace list of that project and host connectivity.
package session

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nebari-dev/prodesk/internal/failure"
	"github.com/nebari-dev/prodesk/internal/health"
	"github.com/nebari-dev/prodesk/internal/history"
	"github.com/nebari-dev/prodesk/internal/models"
	"github.com/nebari-dev/prodesk/internal/remote"
	"github.com/nebari-dev/prodesk/internal/store"
	"github.com/nebari-dev/prodesk/internal/watch"
	"golang.org/x/sync/errgroup"
)

// Options configures a Session.
type Options struct {
	// Project to select. Empty selects the first project of the host.
	Project        string
	HealthInterval time.Duration
	Logger         *slog.Logger
}

// Session is an open connection to one host. The workspace store is written
// only by the session's watch and its optimistic updates.
type Session struct {
	client  *remote.Client
	store   *store.Store
	logger  *slog.Logger
	monitor *health.Monitor

	self     models.Self
	projects []models.Project

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// storeMu orders workspace list writes against project switches.
	storeMu sync.Mutex

	mu       sync.Mutex
	project  string
	sub      *watch.Subscription
	loading  bool
	watchErr error
	closed   bool
}

// Open fetches the user and projects of the client's host, selects a project,
// starts watching its workspaces into st and starts health polling. ctx bounds
// only the initial fetch; the session lives until Close.
func Open(ctx context.Context, client *remote.Client, st *store.Store, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var self models.Self
	var projects []models.Project
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		self, err = client.GetSelf(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		projects, err = client.ListProjects(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	project, err := pickProject(projects, opts.Project)
	if err != nil {
		return nil, err
	}

	s := &Session{
		client:   client,
		store:    st,
		logger:   logger.With("host", client.Host()),
		self:     self,
		projects: projects,
	}
	s.ctx, s.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.monitor = health.NewMonitor(client, opts.HealthInterval, nil, health.WithLogger(s.logger))

	s.mu.Lock()
	s.startWatchLocked(project)
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.monitor.Run(s.ctx)
	}()

	s.logger.Info("Session opened", "project", project, "projects", len(projects))
	return s, nil
}

func pickProject(projects []models.Project, requested string) (string, error) {
	if requested != "" {
		for _, p := range projects {
			if p.Name == requested {
				return requested, nil
			}
		}
		return "", failure.NotFound("project %q not found", requested)
	}
	if len(projects) == 0 {
		return "", failure.NotFound("no projects available")
	}
	return projects[0].Name, nil
}

// Client returns the remote façade of the session.
func (s *Session) Client() *remote.Client { return s.client }

// Store returns the workspace store the session writes to.
func (s *Session) Store() *store.Store { return s.store }

// Self returns the logged in user.
func (s *Session) Self() models.Self { return s.self }

// Projects returns the projects fetched at open.
func (s *Session) Projects() []models.Project { return s.projects }

// Project returns the selected project.
func (s *Session) Project() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.project
}

// Loading reports whether the selected project has not delivered a snapshot yet.
func (s *Session) Loading() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loading
}

// WatchErr returns the error that ended the current watch, if any.
func (s *Session) WatchErr() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.watchErr
}

// Connected reports the last observed host health.
func (s *Session) Connected() bool { return s.monitor.State().Connected }

// Health returns the last observed host health.
func (s *Session) Health() health.State { return s.monitor.State() }

// SelectProject switches the watched project. Selecting the current project
// restarts its watch, which is how a failed watch is retried.
func (s *Session) SelectProject(project string) error {
	if _, err := pickProject(s.projects, project); err != nil {
		return err
	}

	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return failure.Validation("session closed")
	}
	changed := project != s.project
	s.startWatchLocked(project)
	s.mu.Unlock()

	if changed {
		s.store.SetWorkspaces(nil)
	}
	return nil
}

func (s *Session) startWatchLocked(project string) {
	if s.sub != nil {
		s.sub.Cancel()
	}
	s.project = project
	s.loading = true
	s.watchErr = nil

	var sub *watch.Subscription
	sub = s.client.WatchWorkspaces(project,
		func(list []models.RemoteInstance) {
			s.applySnapshot(sub, list)
		},
		func(err error) {
			s.logger.Warn("Workspace watch failed", "project", project, "error", err)
			s.mu.Lock()
			if s.sub == sub {
				s.watchErr = err
				s.loading = false
			}
			s.mu.Unlock()
		},
	)
	s.sub = sub
}

// applySnapshot writes list into the store unless sub has been replaced. A
// snapshot already being decoded when the project switched is dropped.
func (s *Session) applySnapshot(sub *watch.Subscription, list []models.RemoteInstance) {
	s.storeMu.Lock()
	defer s.storeMu.Unlock()

	s.mu.Lock()
	current := s.sub == sub
	s.mu.Unlock()
	if !current {
		return
	}

	s.store.SetWorkspaces(list)
	s.mu.Lock()
	s.loading = false
	s.mu.Unlock()
}

// Create creates a workspace and inserts it into the store without waiting
// for the next snapshot.
func (s *Session) Create(ctx context.Context, inst models.RemoteInstance) (models.WorkspaceInstance, *models.Action, error) {
	created, action, err := s.client.Create(ctx, inst)
	if err != nil {
		return created, action, err
	}
	if err := s.store.SetWorkspace(created.ID, created); err != nil {
		return created, action, err
	}
	return created, action, nil
}

// Delete issues a delete action. Once it succeeds the workspace is removed
// from the store without waiting for the next snapshot.
func (s *Session) Delete(ctx context.Context, workspaceID string, force bool) (*history.Run, error) {
	run, err := s.client.Delete(ctx, workspaceID, force)
	if err != nil {
		return nil, err
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		select {
		case <-run.Done():
		case <-s.ctx.Done():
			return
		}
		a, err := s.client.History().Get(run.ActionID())
		if err != nil || a.Status != models.ActionSuccess {
			return
		}
		if s.store.Delete(workspaceID) {
			s.logger.Debug("Removed deleted workspace", "workspace_id", workspaceID)
		}
	}()
	return run, nil
}

// Close stops the watch and health polling. It is idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	sub := s.sub
	s.mu.Unlock()

	if sub != nil {
		sub.Cancel()
	}
	s.cancel()
	s.wg.Wait()
	s.logger.Info("Session closed")
}
