package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"queryflow/internal/ratelimit"
	"queryflow/internal/router"
	"queryflow/pkg/interfaces"
	"queryflow/pkg/types"
)

// Config controls the sessions a Manager creates.
type Config struct {
	RateLimit    int
	RateWindow   time.Duration
	TickInterval time.Duration
	Latency      time.Duration
	IdleTimeout  time.Duration
	MaxSessions  int
}

// DefaultConfig mirrors the browser application: 10 queries a minute, a one
// second tick and one second of simulated latency.
func DefaultConfig() Config {
	return Config{
		RateLimit:    ratelimit.DefaultLimit,
		RateWindow:   ratelimit.DefaultWindow,
		TickInterval: ratelimit.DefaultTickInterval,
		Latency:      time.Second,
		IdleTimeout:  30 * time.Minute,
		MaxSessions:  1000,
	}
}

// Option customises a Manager.
type Option func(*Manager)

// WithDelayer replaces the latency simulation.
func WithDelayer(d Delayer) Option {
	return func(m *Manager) { m.delay = d }
}

// WithClock replaces the wall clock for sessions and their limiters.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithEndHook registers fn to run after a session ends.
func WithEndHook(fn func(sessionID string)) Option {
	return func(m *Manager) { m.onEnd = append(m.onEnd, fn) }
}

// Manager owns the live sessions.
type Manager struct {
	router   *router.Router
	notifier interfaces.Notifier
	config   Config
	delay    Delayer
	now      func() time.Time
	onEnd    []func(string)
	logger   *slog.Logger

	sessions map[string]*Session
	mu       sync.RWMutex
}

// NewManager creates a manager whose sessions run queries through r and
// report events to notifier, which may be nil.
func NewManager(r *router.Router, notifier interfaces.Notifier, config Config, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{
		router:   r,
		notifier: notifier,
		config:   config,
		now:      time.Now,
		logger:   logger,
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.delay == nil {
		m.delay = Sleep(config.Latency)
	}
	return m
}

// CreateSession starts a new session showing the first catalog query.
func (m *Manager) CreateSession(ctx context.Context) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	m.mu.Lock()
	if m.config.MaxSessions > 0 && len(m.sessions) >= m.config.MaxSessions {
		m.mu.Unlock()
		return nil, ErrTooManySessions
	}

	now := m.now()
	limiter := ratelimit.NewLimiter(m.config.RateLimit, m.config.RateWindow, ratelimit.WithClock(m.now))
	s := &Session{
		id:         uuid.NewString(),
		router:     m.router,
		limiter:    limiter,
		notifier:   m.notifier,
		delay:      m.delay,
		now:        m.now,
		logger:     m.logger,
		createdAt:  now,
		lastActive: now,
	}
	s.monitor = ratelimit.NewMonitor(limiter, m.config.TickInterval, s.onLimitChange)
	if queries := m.router.Catalog().Queries(); len(queries) > 0 {
		s.selected = queries[0]
		s.hasResult = true
		s.input = queries[0].Text
	}
	m.sessions[s.id] = s
	count := len(m.sessions)
	m.mu.Unlock()

	s.start()
	m.logger.Info("session created", "session_id", s.id, "active_sessions", count)
	return s, nil
}

// GetSession returns the live session with the given ID.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	if !types.IsValidSessionID(sessionID) {
		return nil, ErrInvalidSessionID
	}

	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Exists implements interfaces.SessionDirectory.
func (m *Manager) Exists(sessionID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// EndSession stops the session's monitor and forgets it.
func (m *Manager) EndSession(sessionID string) error {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if ok {
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}

	if s.end() {
		for _, fn := range m.onEnd {
			fn(sessionID)
		}
		m.logger.Info("session ended", "session_id", sessionID)
	}
	return nil
}

// ListSessions returns summaries ordered by creation time.
func (m *Manager) ListSessions() []Summary {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	out := make([]Summary, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Summary())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// SweepIdle ends sessions inactive for longer than the idle timeout and
// returns how many were ended. Sessions with a query in flight are kept.
func (m *Manager) SweepIdle() int {
	if m.config.IdleTimeout <= 0 {
		return 0
	}
	cutoff := m.now().Add(-m.config.IdleTimeout)

	m.mu.RLock()
	var stale []string
	for id, s := range m.sessions {
		last, loading := s.idleSince()
		if !loading && last.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	m.mu.RUnlock()

	ended := 0
	for _, id := range stale {
		if err := m.EndSession(id); err == nil {
			ended++
		}
	}
	if ended > 0 {
		m.logger.Info("idle sessions swept", "ended", ended)
	}
	return ended
}

// GetStats reports session counts.
func (m *Manager) GetStats() map[string]any {
	m.mu.RLock()
	defer m.mu.RUnlock()

	limited := 0
	for _, s := range m.sessions {
		if !s.limiter.CanMakeRequest() {
			limited++
		}
	}
	return map[string]any{
		"active_sessions":  len(m.sessions),
		"limited_sessions": limited,
		"max_sessions":     m.config.MaxSessions,
	}
}

// Close ends every session.
func (m *Manager) Close() error {
	m.mu.RLock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.RUnlock()

	for _, id := range ids {
		if err := m.EndSession(id); err != nil && err != ErrSessionNotFound {
			return fmt.Errorf("failed to end session %s: %w", id, err)
		}
	}
	return nil
}
