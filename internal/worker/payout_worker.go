package worker

import (
	"context"
	"fmt"
	"time"
)

type payoutProcessor interface {
	ProcessPending(ctx context.Context, batch int32) (int, error)
}

// PayoutWorker submits processing withdrawals in the background. Concurrent
// instances are safe: each withdrawal is claimed before it is sent.
type PayoutWorker struct {
	*loop
	payouts   payoutProcessor
	batchSize int32
}

// NewPayoutWorker polls every 10 seconds for up to 10 withdrawals.
func NewPayoutWorker(payouts payoutProcessor) *PayoutWorker {
	w := &PayoutWorker{payouts: payouts, batchSize: 10}
	w.loop = newLoop("payout", 10*time.Second, w.processBatch)
	return w
}

// WithPollInterval sets the poll interval for the worker.
func (w *PayoutWorker) WithPollInterval(interval time.Duration) *PayoutWorker {
	w.setInterval(interval)
	return w
}

// WithBatchSize sets the batch size for the worker.
func (w *PayoutWorker) WithBatchSize(size int32) *PayoutWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *PayoutWorker) processBatch(ctx context.Context) (int, error) {
	return w.payouts.ProcessPending(ctx, w.batchSize)
}

// ProcessOnce processes a single batch immediately.
func (w *PayoutWorker) ProcessOnce(ctx context.Context) (int, error) {
	return w.once(ctx)
}

func (w *PayoutWorker) String() string {
	return fmt.Sprintf("PayoutWorker(interval=%v, batch=%d)", w.interval, w.batchSize)
}
