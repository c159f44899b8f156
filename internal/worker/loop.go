package worker

import (
	"context"
	"sync"
	"time"

	"github.com/ayo6706/escrow-settlement/internal/observability"
	"go.uber.org/zap"
)

// job does one unit of background work and reports how many items it touched.
type job func(ctx context.Context) (int, error)

// loop runs a job on a fixed interval until stopped or its context ends.
type loop struct {
	name     string
	interval time.Duration
	eager    bool
	run      job
	stopCh   chan struct{}
	stopOnce sync.Once
}

func newLoop(name string, interval time.Duration, run job) *loop {
	return &loop{
		name:     name,
		interval: interval,
		run:      run,
		stopCh:   make(chan struct{}),
	}
}

func (l *loop) setInterval(interval time.Duration) {
	if interval > 0 {
		l.interval = interval
	}
}

// Start blocks and runs the job at the configured interval.
func (l *loop) Start(ctx context.Context) {
	zap.L().Info("worker starting", zap.String("worker", l.name), zap.Duration("interval", l.interval))
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	if l.eager {
		l.once(ctx)
	}
	for {
		select {
		case <-ctx.Done():
			zap.L().Info("worker context canceled", zap.String("worker", l.name))
			return
		case <-l.stopCh:
			zap.L().Info("worker stop signal received", zap.String("worker", l.name))
			return
		case <-ticker.C:
			l.once(ctx)
		}
	}
}

// Stop stops the running loop. It is safe to call more than once.
func (l *loop) Stop() {
	l.stopOnce.Do(func() {
		close(l.stopCh)
	})
}

// Run starts the loop in a goroutine and returns a stop function.
func (l *loop) Run(ctx context.Context) func() {
	go l.Start(ctx)
	return l.Stop
}

func (l *loop) once(ctx context.Context) (int, error) {
	n, err := l.run(ctx)
	if err != nil {
		observability.IncrementWorkerRun(l.name, "failed")
		zap.L().Error("worker run failed", zap.String("worker", l.name), zap.Error(err))
		return n, err
	}
	observability.IncrementWorkerRun(l.name, "success")
	if n > 0 {
		zap.L().Info("worker run finished", zap.String("worker", l.name), zap.Int("items", n))
	}
	return n, nil
}
