package session

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type manualTimer struct {
	clock   *manualClock
	at      time.Time
	fn      func()
	stopped bool
	fired   bool
}

func (t *manualTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	active := !t.stopped && !t.fired
	t.stopped = true
	return active
}

// manualClock fires timers only when Advance passes their deadline.
type manualClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*manualTimer
}

func newManualClock() *manualClock {
	return &manualClock{now: time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)}
}

func (c *manualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *manualClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{clock: c, at: c.now.Add(d), fn: f}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*manualTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.at.After(c.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	c.mu.Unlock()
	sort.Slice(due, func(i, j int) bool { return due[i].at.Before(due[j].at) })
	for _, t := range due {
		t.fn()
	}
}

func TestTouchKeepsSessionAlive(t *testing.T) {
	clock := newManualClock()
	m := NewManager(10*time.Minute, WithClock(clock))
	ctx := context.Background()

	require.NoError(t, m.Touch(ctx, "s1", "u1"))
	clock.Advance(9 * time.Minute)
	require.NoError(t, m.Touch(ctx, "s1", "u1"))
	clock.Advance(9 * time.Minute)
	assert.True(t, m.Active("s1"))

	seen, ok := m.LastSeen("s1")
	require.True(t, ok)
	assert.Equal(t, clock.Now().Add(-9*time.Minute), seen)
}

func TestIdleSessionExpires(t *testing.T) {
	clock := newManualClock()
	var expired []string
	m := NewManager(10*time.Minute, WithClock(clock), OnExpire(func(sessionID, userID string) {
		expired = append(expired, sessionID+"/"+userID)
	}))
	ctx := context.Background()

	require.NoError(t, m.Touch(ctx, "s1", "u1"))
	clock.Advance(10 * time.Minute)

	assert.False(t, m.Active("s1"))
	assert.Equal(t, []string{"s1/u1"}, expired)
	require.ErrorIs(t, m.Touch(ctx, "s1", "u1"), ErrExpired)

	assert.Equal(t, 1, m.PruneExpired(clock.Now().Add(time.Second)))
	require.NoError(t, m.Touch(ctx, "s1", "u1"))
}

func TestRevokeCancelsTimer(t *testing.T) {
	clock := newManualClock()
	fired := 0
	m := NewManager(time.Minute, WithClock(clock), OnExpire(func(string, string) { fired++ }))
	ctx := context.Background()

	require.NoError(t, m.Touch(ctx, "s1", "u1"))
	require.NoError(t, m.Revoke(ctx, "s1", clock.Now().Add(time.Hour)))
	clock.Advance(2 * time.Minute)

	assert.Equal(t, 0, fired)
	assert.False(t, m.Active("s1"))
	require.ErrorIs(t, m.Touch(ctx, "s1", "u1"), ErrRevoked)
}

func TestRevocationSharedBetweenManagers(t *testing.T) {
	store := NewMemoryRevocationStore()
	a := NewManager(time.Minute, WithRevocationStore(store), WithClock(newManualClock()))
	b := NewManager(time.Minute, WithRevocationStore(store), WithClock(newManualClock()))
	ctx := context.Background()

	require.NoError(t, b.Touch(ctx, "s1", "u1"))
	require.NoError(t, a.Revoke(ctx, "s1", time.Now().Add(time.Hour)))
	require.ErrorIs(t, b.Touch(ctx, "s1", "u1"), ErrRevoked)
}

func TestCloseStopsTimers(t *testing.T) {
	clock := newManualClock()
	fired := 0
	m := NewManager(time.Minute, WithClock(clock), OnExpire(func(string, string) { fired++ }))
	require.NoError(t, m.Touch(context.Background(), "s1", "u1"))
	require.NoError(t, m.Touch(context.Background(), "s2", "u2"))

	m.Close()
	clock.Advance(time.Hour)
	assert.Equal(t, 0, fired)
	assert.False(t, m.Active("s1"))
}

func TestTouchRejectsEmptyID(t *testing.T) {
	m := NewManager(0)
	assert.Equal(t, DefaultIdleTimeout, m.IdleTimeout())
	require.Error(t, m.Touch(context.Background(), "", "u1"))
}
