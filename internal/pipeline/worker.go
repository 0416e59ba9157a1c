package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/vampirenirmal/storyforge/internal/core"
)

// DefaultPollInterval is how long an idle worker waits before asking the
// queue again.
const DefaultPollInterval = 10 * time.Second

// Worker claims briefs one at a time and runs them through the pipeline.
type Worker struct {
	id     int
	orch   *Orchestrator
	poll   time.Duration
	drain  bool
	logger *slog.Logger
}

type WorkerOption func(*Worker)

func WithPollInterval(d time.Duration) WorkerOption {
	return func(w *Worker) {
		if d > 0 {
			w.poll = d
		}
	}
}

// WithDrain makes the worker exit once the queue is empty instead of
// polling for new briefs.
func WithDrain(drain bool) WorkerOption {
	return func(w *Worker) {
		w.drain = drain
	}
}

func NewWorker(id int, orch *Orchestrator, opts ...WorkerOption) *Worker {
	w := &Worker{
		id:   id,
		orch: orch,
		poll: DefaultPollInterval,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.logger = orch.logger.With("worker_id", id)
	return w
}

// RunOnce claims and runs a single brief. It returns core.ErrNoQueuedBrief
// when there is nothing to do.
func (w *Worker) RunOnce(ctx context.Context) (*RunLog, error) {
	b, err := w.orch.briefs.Claim(ctx)
	if err != nil {
		return nil, err
	}
	w.logger.Debug("brief claimed", "brief_id", b.ID)
	return w.orch.Run(ctx, b)
}

// Run processes briefs until the context ends, a terminal error occurs,
// or, in drain mode, the queue is empty. Failed runs are already recorded
// against their brief, so the loop moves on.
func (w *Worker) Run(ctx context.Context) (int, error) {
	processed := 0
	for {
		if err := ctx.Err(); err != nil {
			return processed, err
		}

		runLog, err := w.RunOnce(ctx)
		switch {
		case errors.Is(err, core.ErrNoQueuedBrief):
			if w.drain {
				w.logger.Info("queue drained", "processed", processed)
				return processed, nil
			}
			select {
			case <-ctx.Done():
				return processed, ctx.Err()
			case <-time.After(w.poll):
			}
			continue
		case runLog == nil && err != nil:
			// The queue itself failed.
			return processed, err
		}

		processed++
		if stopsWorker(err) {
			w.logger.Error("stopping worker on terminal error", "error", err)
			return processed, err
		}
	}
}

// stopsWorker reports errors that every following brief would hit too.
func stopsWorker(err error) bool {
	return errors.Is(err, core.ErrAuth) || errors.Is(err, core.ErrNoAPIKey)
}
