// Package health polls a host and reports connectivity transitions.
package health

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nebari-dev/prodesk/internal/models"
	"k8s.io/apimachinery/pkg/util/wait"
)

// DefaultInterval is the polling period used when none is given.
const DefaultInterval = 5 * time.Second

// Checker reports the health of a host. It must not block past ctx.
type Checker interface {
	CheckHealth(ctx context.Context) models.HealthStatus
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context) models.HealthStatus

func (f CheckerFunc) CheckHealth(ctx context.Context) models.HealthStatus { return f(ctx) }

// State is the last observed health.
type State struct {
	Connected bool
	Checked   bool
	Message   string
	CheckedAt time.Time
}

// Monitor polls a Checker on a fixed interval.
type Monitor struct {
	checker  Checker
	interval time.Duration
	onChange func(State)
	logger   *slog.Logger

	mu    sync.RWMutex
	state State
}

// Option configures a Monitor.
type Option func(*Monitor)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(m *Monitor) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewMonitor creates a Monitor. onChange, if set, is called on the first
// check and whenever connectivity flips; it is never called concurrently.
func NewMonitor(checker Checker, interval time.Duration, onChange func(State), opts ...Option) *Monitor {
	if interval <= 0 {
		interval = DefaultInterval
	}
	m := &Monitor{
		checker:  checker,
		interval: interval,
		onChange: onChange,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Run polls until ctx is done. The first check runs immediately.
func (m *Monitor) Run(ctx context.Context) {
	wait.UntilWithContext(ctx, m.Check, m.interval)
}

// Check runs one health check and records the result.
func (m *Monitor) Check(ctx context.Context) {
	status := m.checker.CheckHealth(ctx)
	if ctx.Err() != nil {
		return
	}

	next := State{
		Connected: status.Healthy,
		Checked:   true,
		Message:   status.Message,
		CheckedAt: time.Now(),
	}

	m.mu.Lock()
	changed := !m.state.Checked || m.state.Connected != next.Connected
	m.state = next
	m.mu.Unlock()

	if !changed {
		return
	}
	if next.Connected {
		m.logger.Info("Host connected")
	} else {
		m.logger.Warn("Host disconnected", "message", next.Message)
	}
	if m.onChange != nil {
		m.onChange(next)
	}
}

// State returns the last observed health.
func (m *Monitor) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}
