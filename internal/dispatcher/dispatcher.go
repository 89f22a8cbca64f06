// Package dispatcher accepts scrape runs and fans queued work out to workers.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/metrics"
	"github.com/JakeFAU/research-scraper/internal/worker"
)

// Dispatcher registers runs, queues them, and runs the worker pool.
type Dispatcher struct {
	queue   crawler.Queue
	runs    crawler.RunStore
	ids     crawler.IDGenerator
	clock   crawler.Clock
	workers []*worker.Worker
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(
	queue crawler.Queue,
	runs crawler.RunStore,
	ids crawler.IDGenerator,
	clock crawler.Clock,
	workers []*worker.Worker,
	logger *zap.Logger,
) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runs:    runs,
		ids:     ids,
		clock:   clock,
		workers: workers,
		logger:  logger,
	}
}

// Run starts all workers and blocks until the context finishes.
func (d *Dispatcher) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, w := range d.workers {
		wg.Add(1)
		go func(wk *worker.Worker) {
			defer wg.Done()
			wk.Run(ctx)
		}(w)
	}
	<-ctx.Done()
	wg.Wait()
}

// Submit validates params, records a queued run, and enqueues it. A full
// queue marks the run failed and returns crawler.ErrQueueFull.
func (d *Dispatcher) Submit(ctx context.Context, params crawler.RunParameters) (crawler.Run, error) {
	if len(params.URLs) == 0 {
		return crawler.Run{}, fmt.Errorf("%w: no urls", crawler.ErrInvalidURL)
	}
	for _, u := range params.URLs {
		if _, err := crawler.ValidateURL(u); err != nil {
			return crawler.Run{}, err
		}
	}
	id, err := d.ids.NewID()
	if err != nil {
		return crawler.Run{}, fmt.Errorf("generate run id: %w", err)
	}
	now := d.clock.Now()
	run := crawler.Run{
		ID:         id,
		Status:     crawler.RunStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := d.runs.CreateRun(ctx, run); err != nil {
		return crawler.Run{}, fmt.Errorf("create run: %w", err)
	}
	if err := d.queue.Enqueue(ctx, crawler.QueueItem{RunID: id, Params: params, Submitted: now.Unix()}); err != nil {
		run.Status = crawler.RunStatusFailed
		run.ErrorText = err.Error()
		if uerr := d.runs.UpdateRun(ctx, run); uerr != nil {
			d.logger.Error("mark rejected run failed", zap.String("run_id", id), zap.Error(uerr))
		}
		metrics.ObserveRun(string(crawler.RunStatusFailed))
		if errors.Is(err, crawler.ErrQueueFull) {
			return run, err
		}
		return run, fmt.Errorf("queue enqueue: %w", err)
	}
	metrics.ObserveRun(string(crawler.RunStatusQueued))
	d.logger.Info("run queued", zap.String("run_id", id), zap.Int("urls", len(params.URLs)))
	return run, nil
}

// Get returns a run by id.
func (d *Dispatcher) Get(ctx context.Context, id string) (crawler.Run, error) {
	run, err := d.runs.GetRun(ctx, id)
	if err != nil {
		return crawler.Run{}, fmt.Errorf("get run: %w", err)
	}
	return run, nil
}
