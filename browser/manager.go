package browser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"

	"github.com/ethereum-optimism/infra/op-webcheck/metrics"
	"github.com/ethereum-optimism/infra/op-webcheck/types"
)

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	Engine            Engine
	Log               log.Logger
	BaseURL           string
	NavigationTimeout time.Duration
}

// Manager hands out isolated sessions and tracks the ones still live.
type Manager struct {
	engine            Engine
	log               log.Logger
	baseURL           string
	navigationTimeout time.Duration

	mu   sync.Mutex
	live map[string]*Session
}

// NewManager creates a session manager over engine.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Engine == nil {
		return nil, errors.New("engine is required")
	}
	if cfg.Log == nil {
		cfg.Log = log.New()
	}
	return &Manager{
		engine:            cfg.Engine,
		log:               cfg.Log.New("component", "session-manager"),
		baseURL:           cfg.BaseURL,
		navigationTimeout: cfg.NavigationTimeout,
		live:              make(map[string]*Session),
	}, nil
}

// Acquire opens a fresh context and page emulating project. Engine failures
// are reported as infrastructure errors wrapping ErrSessionUnavailable.
func (m *Manager) Acquire(ctx context.Context, project types.ProjectConfig) (*Session, error) {
	if err := project.Validate(); err != nil {
		return nil, err
	}
	id := uuid.New().String()
	logger := m.log.New("session", id, "project", project.Name)

	browserCtx, err := m.engine.NewContext(ctx, project)
	if err != nil {
		metrics.RecordSessionFailure(project.Name)
		return nil, unavailable(project, err)
	}
	page, err := browserCtx.NewPage(ctx)
	if err != nil {
		_ = browserCtx.Close()
		metrics.RecordSessionFailure(project.Name)
		return nil, unavailable(project, err)
	}

	s := &Session{
		id:                id,
		project:           project,
		log:               logger,
		browserCtx:        browserCtx,
		page:              page,
		baseURL:           m.baseURL,
		navigationTimeout: m.navigationTimeout,
	}
	s.stopEvents = page.Subscribe(s.dispatch)

	m.mu.Lock()
	m.live[id] = s
	m.mu.Unlock()
	metrics.RecordSessionAcquired(project.Name)
	logger.Debug("Session acquired")
	return s, nil
}

func unavailable(project types.ProjectConfig, err error) error {
	return types.NewInfrastructureError(fmt.Errorf("project %s: %w: %w", project.Name, ErrSessionUnavailable, err))
}

// Release tears s down. It is idempotent and safe to call from any goroutine.
func (m *Manager) Release(s *Session) error {
	if s == nil {
		return nil
	}
	m.mu.Lock()
	_, tracked := m.live[s.id]
	delete(m.live, s.id)
	m.mu.Unlock()

	err := s.release()
	if tracked {
		metrics.RecordSessionReleased(s.project.Name)
	}
	return err
}

// With acquires a session, runs fn and releases the session on every exit
// path, including panics.
func (m *Manager) With(ctx context.Context, project types.ProjectConfig, fn func(*Session) error) error {
	s, err := m.Acquire(ctx, project)
	if err != nil {
		return err
	}
	defer func() {
		if relErr := m.Release(s); relErr != nil {
			m.log.Warn("Failed to release session", "session", s.id, "err", relErr)
		}
	}()
	return fn(s)
}

// Live returns the number of sessions acquired and not yet released.
func (m *Manager) Live() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

// Close releases every live session and closes the engine.
func (m *Manager) Close() error {
	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.live))
	for _, s := range m.live {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := m.Release(s); err != nil {
			errs = append(errs, err)
		}
	}
	if err := m.engine.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close engine: %w", err))
	}
	return errors.Join(errs...)
}
