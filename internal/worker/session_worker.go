package worker

import (
	"context"
	"time"
)

type sessionPruner interface {
	PruneExpired(before time.Time) int
}

// SessionPruneWorker drops idled-out session markers once any token that
// could still reference them has expired.
type SessionPruneWorker struct {
	*loop
	sessions sessionPruner
	retain   time.Duration
	now      func() time.Time
}

// NewSessionPruneWorker keeps expired markers for retain, normally the
// access token lifetime, and sweeps at that same interval.
func NewSessionPruneWorker(sessions sessionPruner, retain time.Duration) *SessionPruneWorker {
	w := &SessionPruneWorker{sessions: sessions, retain: retain, now: time.Now}
	w.loop = newLoop("session_prune", retain, w.prune)
	return w
}

func (w *SessionPruneWorker) RunOnce(ctx context.Context) (int, error) {
	return w.once(ctx)
}

func (w *SessionPruneWorker) prune(context.Context) (int, error) {
	return w.sessions.PruneExpired(w.now().Add(-w.retain)), nil
}
