package session

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/eleven-am/echolens/internal/metrics"
	"github.com/eleven-am/echolens/internal/narration"
	"github.com/eleven-am/echolens/internal/shared"
)

const (
	defaultIdleTimeout  = 15 * time.Minute
	defaultReapInterval = time.Minute
)

var validID = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type Config struct {
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	Narration    narration.Config
}

// Manager is the in-memory registry of live sessions.
type Manager struct {
	sessions map[string]*Session
	mu       sync.RWMutex
	cfg      Config
	logger   *slog.Logger
}

func NewManager(cfg Config, logger *slog.Logger) *Manager {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = defaultIdleTimeout
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = defaultReapInterval
	}
	return &Manager{
		sessions: make(map[string]*Session),
		cfg:      cfg,
		logger:   logger.With("component", "session_manager"),
	}
}

func (m *Manager) Create() *Session {
	sess := New("", m.cfg.Narration)

	m.mu.Lock()
	m.sessions[sess.ID] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info("session created", "session_id", sess.ID)
	return sess
}

// GetOrCreate returns the session for id, creating it under that id when
// unknown. An empty id always creates a new session.
func (m *Manager) GetOrCreate(id string) (*Session, bool, error) {
	if id == "" {
		return m.Create(), true, nil
	}
	if !validID.MatchString(id) {
		return nil, false, shared.NewValidationError("session_id", "must be 1-64 letters, digits, '-' or '_'")
	}

	m.mu.Lock()
	if sess, ok := m.sessions[id]; ok {
		m.mu.Unlock()
		return sess, false, nil
	}
	sess := New(id, m.cfg.Narration)
	m.sessions[id] = sess
	count := len(m.sessions)
	m.mu.Unlock()

	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info("session created", "session_id", id)
	return sess, true, nil
}

func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, ok := m.sessions[id]
	if !ok {
		return nil, shared.ErrNotFound
	}
	return sess, nil
}

func (m *Manager) Close(id string) error {
	m.mu.Lock()
	sess, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	if !ok {
		return shared.ErrNotFound
	}
	sess.Close()
	metrics.ActiveSessions.Set(float64(count))
	m.logger.Info("session closed", "session_id", id, "segments", sess.Narration().Len())
	return nil
}

func (m *Manager) Reset(ctx context.Context, id string) (*Session, error) {
	sess, err := m.Get(id)
	if err != nil {
		return nil, err
	}
	if err := sess.Reset(ctx); err != nil {
		return nil, err
	}
	m.logger.Info("session reset", "session_id", id)
	return sess, nil
}

func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info(false))
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.Before(infos[j].CreatedAt)
	})
	return infos
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Reap closes sessions idle longer than the configured timeout. Sessions with
// frames in flight are left alone.
func (m *Manager) Reap(now time.Time) int {
	m.mu.Lock()
	var expired []*Session
	for id, sess := range m.sessions {
		if sess.Busy() || now.Sub(sess.LastActive()) < m.cfg.IdleTimeout {
			continue
		}
		delete(m.sessions, id)
		expired = append(expired, sess)
	}
	count := len(m.sessions)
	m.mu.Unlock()

	for _, sess := range expired {
		sess.Close()
		m.logger.Info("session expired", "session_id", sess.ID)
	}
	if len(expired) > 0 {
		metrics.ActiveSessions.Set(float64(count))
	}
	return len(expired)
}

// CloseAll closes every session; used on shutdown.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	sessions := m.sessions
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range sessions {
		sess.Close()
	}
	metrics.ActiveSessions.Set(0)
}

func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := m.Reap(now); n > 0 {
				m.logger.Debug("reaped idle sessions", "count", n)
			}
		}
	}
}
