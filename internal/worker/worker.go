// Package worker executes queued scrape runs through the retry scheduler.
package worker

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/metrics"
	"github.com/JakeFAU/research-scraper/internal/scheduler"
)

// Scraper drives one batch of URLs to completion.
type Scraper interface {
	Run(ctx context.Context, runID string, urls []string) (scheduler.Report, error)
}

// Worker consumes queue items and records run outcomes.
type Worker struct {
	id      int
	queue   crawler.Queue
	runs    crawler.RunStore
	scraper Scraper
	logger  *zap.Logger
}

// New constructs a Worker.
func New(id int, queue crawler.Queue, runs crawler.RunStore, scraper Scraper, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Worker{
		id:      id,
		queue:   queue,
		runs:    runs,
		scraper: scraper,
		logger:  logger.With(zap.Int("worker", id)),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue
// is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Info("worker stopping", zap.Error(err))
			return
		}
		w.logger.Debug("dequeued run", zap.String("run_id", item.RunID))
		w.Process(ctx, item)
	}
}

// Process executes one run and persists its final status. Per-URL failures
// leave the run succeeded with FailedURLs populated; only run-level errors
// mark it failed.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("run_id", item.RunID))
	run, err := w.runs.GetRun(ctx, item.RunID)
	if err != nil {
		logger.Error("load run failed", zap.Error(err))
		return
	}
	run.Status = crawler.RunStatusRunning
	if err := w.runs.UpdateRun(ctx, run); err != nil {
		logger.Error("mark run running failed", zap.Error(err))
		return
	}
	if run, err = w.runs.GetRun(ctx, item.RunID); err != nil {
		logger.Error("reload run failed", zap.Error(err))
		return
	}

	report, runErr := w.scraper.Run(ctx, item.RunID, item.Params.URLs)
	run.Counters = crawler.RunCounters{
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
		Retries:   report.Retries,
	}
	run.FailedURLs = report.Failed
	run.Status = crawler.RunStatusSucceeded
	if runErr != nil {
		run.Status = crawler.RunStatusFailed
		run.ErrorText = runErr.Error()
		logger.Error("run failed", zap.Error(runErr))
	}

	// Record the outcome even when ctx was canceled mid-run.
	updateCtx := ctx
	if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		updateCtx = context.WithoutCancel(ctx)
	}
	if err := w.runs.UpdateRun(updateCtx, run); err != nil {
		logger.Error("record run outcome failed", zap.Error(fmt.Errorf("update run: %w", err)))
		return
	}
	metrics.ObserveRun(string(run.Status))
	logger.Info("run finished",
		zap.String("status", string(run.Status)),
		zap.Int("succeeded", run.Counters.Succeeded),
		zap.Int("failed", run.Counters.Failed),
	)
}
