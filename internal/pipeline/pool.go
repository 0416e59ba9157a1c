package pipeline

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Pool runs several workers against the same queue.
type Pool struct {
	orch    *Orchestrator
	workers int
	poll    time.Duration
}

func NewPool(orch *Orchestrator, workers int, poll time.Duration) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{orch: orch, workers: workers, poll: poll}
}

// Run keeps every worker polling until ctx ends or one of them hits a
// terminal error.
func (p *Pool) Run(ctx context.Context) (int, error) {
	return p.run(ctx, false)
}

// Drain runs until the queue is empty and returns the number of briefs
// processed.
func (p *Pool) Drain(ctx context.Context) (int, error) {
	return p.run(ctx, true)
}

func (p *Pool) run(ctx context.Context, drain bool) (int, error) {
	p.orch.logger.Info("starting worker pool", "workers", p.workers, "drain", drain)

	var total atomic.Int64
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		w := NewWorker(i, p.orch, WithPollInterval(p.poll), WithDrain(drain))
		g.Go(func() error {
			n, err := w.Run(ctx)
			total.Add(int64(n))
			if err != nil && ctx.Err() == nil {
				return fmt.Errorf("worker %d: %w", w.id, err)
			}
			return nil
		})
	}

	err := g.Wait()
	processed := int(total.Load())
	p.orch.logger.Info("worker pool stopped", "processed", processed, "error", err)
	return processed, err
}
