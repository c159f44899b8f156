package worker

import (
	"context"
	"time"
)

type autoApprover interface {
	AutoApproveDue(ctx context.Context, limit int32) (int, error)
}

// AutoApproveWorker releases project escrows whose review window lapsed
// without an owner decision.
type AutoApproveWorker struct {
	*loop
	projects  autoApprover
	batchSize int32
}

func NewAutoApproveWorker(projects autoApprover) *AutoApproveWorker {
	w := &AutoApproveWorker{projects: projects, batchSize: 50}
	w.loop = newLoop("auto_approve", time.Minute, w.approveDue)
	return w
}

func (w *AutoApproveWorker) WithInterval(interval time.Duration) *AutoApproveWorker {
	w.setInterval(interval)
	return w
}

func (w *AutoApproveWorker) WithBatchSize(size int32) *AutoApproveWorker {
	if size > 0 {
		w.batchSize = size
	}
	return w
}

func (w *AutoApproveWorker) RunOnce(ctx context.Context) (int, error) {
	return w.once(ctx)
}

func (w *AutoApproveWorker) approveDue(ctx context.Context) (int, error) {
	return w.projects.AutoApproveDue(ctx, w.batchSize)
}
