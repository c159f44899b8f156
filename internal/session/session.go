// Package session tracks authenticated sessions by token id and expires them
// after a period of inactivity.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	ErrRevoked = errors.New("session revoked")
	ErrExpired = errors.New("session expired")
)

// DefaultIdleTimeout applies when the manager is built with a zero timeout.
const DefaultIdleTimeout = 30 * time.Minute

// Timer is the part of *time.Timer the manager needs.
type Timer interface {
	Stop() bool
}

// Clock supplies time and timers so tests can drive expiry by hand.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }

// SystemClock is the wall clock.
var SystemClock Clock = systemClock{}

// RevocationStore remembers revoked session ids until their tokens could no
// longer be valid anyway. It is shared between replicas.
type RevocationStore interface {
	MarkRevoked(ctx context.Context, sessionID string, until time.Time) error
	IsRevoked(ctx context.Context, sessionID string) (bool, error)
}

type entry struct {
	userID     string
	lastSeen   time.Time
	timer      Timer
	generation uint64
}

// Manager owns the idle timer of every live session on this replica.
type Manager struct {
	clock       Clock
	idle        time.Duration
	revocations RevocationStore
	onExpire    func(sessionID, userID string)

	mu       sync.Mutex
	sessions map[string]*entry
	expired  map[string]time.Time
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock replaces the wall clock.
func WithClock(c Clock) Option {
	return func(m *Manager) { m.clock = c }
}

// WithRevocationStore shares revocations across replicas.
func WithRevocationStore(s RevocationStore) Option {
	return func(m *Manager) { m.revocations = s }
}

// OnExpire registers a callback run after a session idles out.
func OnExpire(f func(sessionID, userID string)) Option {
	return func(m *Manager) { m.onExpire = f }
}

func NewManager(idle time.Duration, opts ...Option) *Manager {
	if idle <= 0 {
		idle = DefaultIdleTimeout
	}
	m := &Manager{
		clock:       SystemClock,
		idle:        idle,
		revocations: NewMemoryRevocationStore(),
		sessions:    map[string]*entry{},
		expired:     map[string]time.Time{},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// IdleTimeout returns the configured inactivity limit.
func (m *Manager) IdleTimeout() time.Duration {
	return m.idle
}

// Touch records activity on sessionID and restarts its idle timer. A session
// seen for the first time is started. Revoked or idled-out sessions return
// ErrRevoked or ErrExpired.
func (m *Manager) Touch(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" {
		return fmt.Errorf("touch session: empty id")
	}
	revoked, err := m.revocations.IsRevoked(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("check session revocation: %w", err)
	}
	if revoked {
		return ErrRevoked
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, gone := m.expired[sessionID]; gone {
		return ErrExpired
	}
	e, ok := m.sessions[sessionID]
	if !ok {
		e = &entry{userID: userID}
		m.sessions[sessionID] = e
	} else if e.timer != nil {
		e.timer.Stop()
	}
	e.lastSeen = m.clock.Now()
	e.generation++
	gen := e.generation
	e.timer = m.clock.AfterFunc(m.idle, func() { m.expire(sessionID, gen) })
	return nil
}

// expire drops sessionID unless it was touched again after the timer for gen was armed.
func (m *Manager) expire(sessionID string, gen uint64) {
	m.mu.Lock()
	e, ok := m.sessions[sessionID]
	if !ok || e.generation != gen {
		m.mu.Unlock()
		return
	}
	delete(m.sessions, sessionID)
	m.expired[sessionID] = m.clock.Now()
	m.mu.Unlock()

	zap.L().Info("session idled out", zap.String("session_id", sessionID), zap.String("user_id", e.userID))
	if m.onExpire != nil {
		m.onExpire(sessionID, e.userID)
	}
}

// Revoke ends sessionID now. until bounds how long the revocation must be
// remembered, normally the expiry of the longest-lived token for the session.
func (m *Manager) Revoke(ctx context.Context, sessionID string, until time.Time) error {
	m.mu.Lock()
	if e, ok := m.sessions[sessionID]; ok {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.sessions, sessionID)
	}
	m.mu.Unlock()

	if err := m.revocations.MarkRevoked(ctx, sessionID, until); err != nil {
		return fmt.Errorf("revoke session: %w", err)
	}
	zap.L().Info("session revoked", zap.String("session_id", sessionID))
	return nil
}

// Active reports whether sessionID has a running idle timer on this replica.
func (m *Manager) Active(sessionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sessions[sessionID]
	return ok
}

// LastSeen returns when sessionID was last touched.
func (m *Manager) LastSeen(sessionID string) (time.Time, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[sessionID]
	if !ok {
		return time.Time{}, false
	}
	return e.lastSeen, true
}

// Close stops every idle timer. Sessions are not revoked.
func (m *Manager) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		if e.timer != nil {
			e.timer.Stop()
		}
		delete(m.sessions, id)
	}
}

// PruneExpired forgets idled-out sessions older than before; their tokens
// are past expiry by then.
func (m *Manager) PruneExpired(before time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, at := range m.expired {
		if at.Before(before) {
			delete(m.expired, id)
			n++
		}
	}
	return n
}
