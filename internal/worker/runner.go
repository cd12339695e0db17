package worker

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/patrick-slimelab/discord-indexer/internal/logx"
)

// Runner starts a fixed set of workers together and cancels all of them as
// soon as any one returns a non-nil error.
type Runner struct {
	workers []Worker
	logger  logx.Logger
}

// NewRunner creates a Runner over workers, logging through logger (or a
// discard logger if nil).
func NewRunner(logger logx.Logger, workers ...Worker) *Runner {
	if logger == nil {
		logger = logx.Discard
	}
	return &Runner{workers: workers, logger: logger}
}

// Run blocks until every worker has returned, or until ctx is cancelled and
// every worker has observed that cancellation and returned. The first
// non-nil worker error is returned.
func (r *Runner) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, w := range r.workers {
		w := w
		r.logger.WithField("worker", w.Name()).Info("worker started")
		g.Go(func() error {
			err := w.Run(ctx)
			if err != nil {
				r.logger.WithFields(map[string]any{"worker": w.Name(), "err": err.Error()}).Error("worker exited with error")
			}
			return err
		})
	}
	return g.Wait()
}
