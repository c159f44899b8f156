package worker

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type countingPayouts struct {
	calls atomic.Int32
	batch atomic.Int32
}

func (c *countingPayouts) ProcessPending(_ context.Context, batch int32) (int, error) {
	c.calls.Add(1)
	c.batch.Store(batch)
	return 1, nil
}

type fakeReconciler struct {
	sweep  service.SweepResult
	report service.LedgerReport
	err    error
	checks int
}

func (f *fakeReconciler) SweepStaleSessions(context.Context, int32) (service.SweepResult, error) {
	return f.sweep, f.err
}

func (f *fakeReconciler) CheckLedger(context.Context) (service.LedgerReport, error) {
	f.checks++
	return f.report, nil
}

type approverFunc func(ctx context.Context, limit int32) (int, error)

func (f approverFunc) AutoApproveDue(ctx context.Context, limit int32) (int, error) {
	return f(ctx, limit)
}

type retrierFunc func(ctx context.Context, limit int32) (int, error)

func (f retrierFunc) RetryDeferred(ctx context.Context, limit int32) (int, error) {
	return f(ctx, limit)
}

func TestPayoutWorkerPollsUntilStopped(t *testing.T) {
	payouts := &countingPayouts{}
	w := NewPayoutWorker(payouts).WithPollInterval(5 * time.Millisecond).WithBatchSize(3)

	stop := w.Run(context.Background())
	require.Eventually(t, func() bool { return payouts.calls.Load() >= 2 }, time.Second, time.Millisecond)
	stop()
	stop()

	assert.Equal(t, int32(3), payouts.batch.Load())
	assert.Contains(t, w.String(), "batch=3")
}

func TestPayoutWorkerStopsOnContextCancel(t *testing.T) {
	w := NewPayoutWorker(&countingPayouts{}).WithPollInterval(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop after cancel")
	}
}

func TestReconciliationWorkerSweepsAndChecks(t *testing.T) {
	svc := &fakeReconciler{
		sweep:  service.SweepResult{Confirmed: 2, Expired: 1, Pending: 4},
		report: service.LedgerReport{Debits: 10, Credits: 10},
	}
	n, err := NewReconciliationWorker(svc).RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, 1, svc.checks)
}

func TestReconciliationWorkerSkipsLedgerCheckWhenSweepFails(t *testing.T) {
	svc := &fakeReconciler{err: errors.New("gateway down")}
	_, err := NewReconciliationWorker(svc).RunOnce(context.Background())
	require.Error(t, err)
	assert.Equal(t, 0, svc.checks)
}

func TestReconciliationWorkerRunsAtStartup(t *testing.T) {
	svc := &fakeReconciler{report: service.LedgerReport{}}
	w := NewReconciliationWorker(svc).WithInterval(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		w.Start(ctx)
		close(done)
	}()
	require.Eventually(t, func() bool {
		w.Stop()
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.Equal(t, 1, svc.checks)
}

func TestAutoApproveWorkerPassesBatchSize(t *testing.T) {
	var got int32
	w := NewAutoApproveWorker(approverFunc(func(_ context.Context, limit int32) (int, error) {
		got = limit
		return 2, nil
	})).WithBatchSize(7)

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, int32(7), got)
}

func TestDeferredEventWorkerReportsErrors(t *testing.T) {
	w := NewDeferredEventWorker(retrierFunc(func(context.Context, int32) (int, error) {
		return 0, errors.New("store unavailable")
	})).WithInterval(0)

	assert.Equal(t, 15*time.Second, w.interval)
	_, err := w.RunOnce(context.Background())
	require.EqualError(t, err, "store unavailable")
}

type prunerFunc func(before time.Time) int

func (f prunerFunc) PruneExpired(before time.Time) int {
	return f(before)
}

func TestSessionPruneWorkerRetainsTokenLifetime(t *testing.T) {
	now := time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)
	var cutoff time.Time
	w := NewSessionPruneWorker(prunerFunc(func(before time.Time) int {
		cutoff = before
		return 2
	}), 15*time.Minute)
	w.now = func() time.Time { return now }

	n, err := w.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, now.Add(-15*time.Minute), cutoff)
	assert.Equal(t, 15*time.Minute, w.interval)
}
