package worker

import (
	"context"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/service"
	"go.uber.org/zap"
)

type reconciler interface {
	SweepStaleSessions(ctx context.Context, limit int32) (service.SweepResult, error)
	CheckLedger(ctx context.Context) (service.LedgerReport, error)
}

// ReconciliationWorker polls the gateway for unconfirmed checkout sessions
// and checks that the ledger balances.
type ReconciliationWorker struct {
	*loop
	svc       reconciler
	batchSize int32
}

// NewReconciliationWorker runs every 5 minutes and once at startup.
func NewReconciliationWorker(svc reconciler) *ReconciliationWorker {
	w := &ReconciliationWorker{svc: svc, batchSize: 100}
	w.loop = newLoop("reconciliation", 5*time.Minute, w.reconcile)
	w.eager = true
	return w
}

// WithInterval updates the run interval.
func (w *ReconciliationWorker) WithInterval(interval time.Duration) *ReconciliationWorker {
	w.setInterval(interval)
	return w
}

// WithBatchSize caps how many stale sessions one run polls.
func (w *ReconciliationWorker) WithBatchSize(size int32) *ReconciliationWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

// RunOnce sweeps stale sessions and checks the ledger immediately.
func (w *ReconciliationWorker) RunOnce(ctx context.Context) (int, error) {
	return w.once(ctx)
}

func (w *ReconciliationWorker) reconcile(ctx context.Context) (int, error) {
	swept, err := w.svc.SweepStaleSessions(ctx, w.batchSize)
	if err != nil {
		return 0, err
	}
	if swept != (service.SweepResult{}) {
		zap.L().Info("stale sessions swept",
			zap.Int("confirmed", swept.Confirmed),
			zap.Int("failed", swept.Failed),
			zap.Int("expired", swept.Expired),
			zap.Int("pending", swept.Pending),
		)
	}
	report, err := w.svc.CheckLedger(ctx)
	if err != nil {
		return 0, err
	}
	if !report.Balanced() {
		zap.L().Error("ledger check failed",
			zap.Bool("alert", true),
			zap.Strings("accounts", report.ImbalancedAccounts),
		)
	}
	return swept.Confirmed + swept.Failed + swept.Expired, nil
}
