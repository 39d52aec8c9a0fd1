package debugger

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ctagard/pldbg-mcp/internal/errors"
	"github.com/ctagard/pldbg-mcp/pkg/types"
)

// ManagerConfig holds what every controller the manager creates shares.
type ManagerConfig struct {
	Attacher Attacher
	Bridge   Bridge
	Tracker  *Tracker

	PortMarker    string
	AttachTimeout time.Duration
	CloseTimeout  time.Duration

	// SessionTimeout bounds how long a session may stay open.
	SessionTimeout time.Duration
	// Retention is how long closed sessions stay queryable.
	Retention time.Duration
	// SweepInterval is how often expired sessions are collected.
	SweepInterval time.Duration

	Clock  clock.Clock
	Logger *zap.Logger
}

// Manager tracks sessions by id.
type Manager struct {
	cfg      ManagerConfig
	sessions map[string]*Controller
	mu       sync.RWMutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a manager and starts its cleanup loop.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Clock == nil {
		cfg.Clock = clock.New()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewTracker(cfg.Logger)
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = time.Minute
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Controller),
		ctx:      ctx,
		cancel:   cancel,
	}

	m.wg.Add(1)
	go m.cleanupLoop()

	return m
}

// Tracker returns the tracker sessions claim the debugger through.
func (m *Manager) Tracker() *Tracker {
	return m.cfg.Tracker
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()
	ticker := m.cfg.Clock.Ticker(m.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions closes sessions open longer than the session
// timeout and forgets closed ones older than the retention period.
func (m *Manager) cleanupExpiredSessions() {
	now := m.cfg.Clock.Now()

	var expired []*Controller
	m.mu.Lock()
	for id, c := range m.sessions {
		if closedAt := c.ClosedAt(); !closedAt.IsZero() {
			if now.Sub(closedAt) >= m.cfg.Retention {
				delete(m.sessions, id)
			}
			continue
		}
		if m.cfg.SessionTimeout > 0 && now.Sub(c.CreatedAt()) > m.cfg.SessionTimeout {
			expired = append(expired, c)
		}
	}
	m.mu.Unlock()

	for _, c := range expired {
		m.cfg.Logger.Info("closing expired session", zap.String("session", c.ID()))
		c.Close()
	}
}

// CreateSession registers a controller for call on control.
func (m *Manager) CreateSession(call types.CallSite, control ControlConnection, hooks Hooks) (*Controller, error) {
	if m.ctx.Err() != nil {
		return nil, errors.SessionClosed("manager")
	}

	c := NewController(Options{
		ID:            uuid.New().String(),
		Call:          call,
		Control:       control,
		Attacher:      m.cfg.Attacher,
		Bridge:        m.cfg.Bridge,
		Tracker:       m.cfg.Tracker,
		PortMarker:    m.cfg.PortMarker,
		AttachTimeout: m.cfg.AttachTimeout,
		CloseTimeout:  m.cfg.CloseTimeout,
		Clock:         m.cfg.Clock,
		Logger:        m.cfg.Logger,
		Hooks:         hooks,
	})

	m.mu.Lock()
	m.sessions[c.ID()] = c
	m.mu.Unlock()

	return c, nil
}

// GetSession retrieves a session by id.
func (m *Manager) GetSession(id string) (*Controller, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.sessions[id]
	if !ok {
		return nil, errors.SessionNotFound(id)
	}
	return c, nil
}

// ListSessions returns a snapshot of every known session, oldest first.
func (m *Manager) ListSessions() []types.SessionInfo {
	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	sort.Slice(controllers, func(i, j int) bool {
		return controllers[i].CreatedAt().Before(controllers[j].CreatedAt())
	})

	infos := make([]types.SessionInfo, 0, len(controllers))
	for _, c := range controllers {
		infos = append(infos, c.Info())
	}
	return infos
}

// TerminateSession closes a session. Terminating a closed session is a no-op.
func (m *Manager) TerminateSession(id string) error {
	c, err := m.GetSession(id)
	if err != nil {
		return err
	}
	c.Close()
	return nil
}

// Close stops the cleanup loop and closes every open session.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.mu.RLock()
	controllers := make([]*Controller, 0, len(m.sessions))
	for _, c := range m.sessions {
		controllers = append(controllers, c)
	}
	m.mu.RUnlock()

	for _, c := range controllers {
		c.Close()
	}
}
