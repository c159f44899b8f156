package worker

import (
	"context"
	"time"
)

type deferredRetrier interface {
	RetryDeferred(ctx context.Context, limit int32) (int, error)
}

// DeferredEventWorker re-applies webhook events that arrived before their
// subject was ready.
type DeferredEventWorker struct {
	*loop
	webhooks  deferredRetrier
	batchSize int32
}

func NewDeferredEventWorker(webhooks deferredRetrier) *DeferredEventWorker {
	w := &DeferredEventWorker{webhooks: webhooks, batchSize: 50}
	w.loop = newLoop("deferred_events", 15*time.Second, w.retry)
	return w
}

func (w *DeferredEventWorker) WithInterval(interval time.Duration) *DeferredEventWorker {
	w.setInterval(interval)
	return w
}

func (w *DeferredEventWorker) WithBatchSize(size int32) *DeferredEventWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *DeferredEventWorker) RunOnce(ctx context.Context) (int, error) {
	return w.once(ctx)
}

func (w *DeferredEventWorker) retry(ctx context.Context) (int, error) {
	return w.webhooks.RetryDeferred(ctx, w.batchSize)
}
