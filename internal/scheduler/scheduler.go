// Package scheduler drives a set of URLs through tick-based retries with
// exponential backoff until every URL has succeeded or exhausted its budget.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/metrics"
	"github.com/JakeFAU/research-scraper/internal/progress"
	"github.com/JakeFAU/research-scraper/internal/telemetry"
)

const (
	defaultTickInterval = 100 * time.Millisecond
	defaultTimeout      = 30 * time.Second
)

// Config holds the retry budget and pacing of a run.
type Config struct {
	MaxRetries   int
	InitialDelay time.Duration
	// Timeout bounds a single fetch attempt.
	Timeout      time.Duration
	TickInterval time.Duration
	// Concurrency caps parallel attempts within one tick.
	Concurrency int
	// Topic receives a document.stored event per stored document when a
	// publisher is configured.
	Topic string
}

// Report summarizes a run. URL slices are sorted.
type Report struct {
	RunID     string                            `json:"run_id"`
	Succeeded []string                          `json:"succeeded"`
	Failed    []string                          `json:"failed"`
	Pending   []string                          `json:"pending"`
	Tasks     map[string]crawler.FetchTask      `json:"tasks"`
	Documents map[string]crawler.StoredDocument `json:"documents"`
	// Retries counts failed attempts across all URLs.
	Retries int `json:"retries"`
}

// Scheduler owns retry timing for a batch of URLs. The content fetcher is
// always called without internal retries.
type Scheduler struct {
	cfg       Config
	fetcher   crawler.ContentFetcher
	store     crawler.DocumentStore
	index     crawler.DocumentIndex
	publisher crawler.Publisher
	clock     crawler.Clock
	policy    *crawler.ExponentialRetryPolicy
	logger    *zap.Logger
	progress  progress.Emitter
	tracer    trace.Tracer
}

// Option customizes a Scheduler.
type Option func(*Scheduler)

// WithProgress streams run and fetch milestones to emitter.
func WithProgress(emitter progress.Emitter) Option {
	return func(s *Scheduler) {
		s.progress = emitter
	}
}

// WithTracer overrides the tracer used for attempt spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(s *Scheduler) {
		if tracer != nil {
			s.tracer = tracer
		}
	}
}

// New wires a Scheduler. index and publisher are optional.
func New(
	cfg Config,
	fetcher crawler.ContentFetcher,
	store crawler.DocumentStore,
	index crawler.DocumentIndex,
	publisher crawler.Publisher,
	clock crawler.Clock,
	logger *zap.Logger,
	opts ...Option,
) (*Scheduler, error) {
	switch {
	case fetcher == nil:
		return nil, errors.New("scheduler: content fetcher is required")
	case store == nil:
		return nil, errors.New("scheduler: document store is required")
	case clock == nil:
		return nil, errors.New("scheduler: clock is required")
	}
	if cfg.MaxRetries < 1 {
		return nil, fmt.Errorf("scheduler: max retries must be >= 1, got %d", cfg.MaxRetries)
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Scheduler{
		cfg:       cfg,
		fetcher:   fetcher,
		store:     store,
		index:     index,
		publisher: publisher,
		clock:     clock,
		policy:    crawler.NewExponentialRetryPolicy(cfg.MaxRetries, cfg.InitialDelay),
		logger:    logger,
		tracer:    telemetry.Tracer(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

type outcome struct {
	url      string
	result   *crawler.FetchResult
	doc      *crawler.StoredDocument
	reason   string
	started  time.Time
	finished time.Time
}

// Run processes urls until none is pending. Per-URL failures are reported in
// the Report, never returned as errors. A malformed URL fails the run before
// any fetch. On cancellation the partial report is returned with ctx's error.
func (s *Scheduler) Run(ctx context.Context, runID string, urls []string) (Report, error) {
	order, err := dedupe(urls)
	if err != nil {
		return Report{}, err
	}
	logger := s.logger.With(zap.String("run_id", runID))

	tasks := make(map[string]*crawler.FetchTask, len(order))
	for _, u := range order {
		tasks[u] = &crawler.FetchTask{URL: u, State: crawler.TaskPending}
	}
	docs := make(map[string]crawler.StoredDocument)
	retries := 0
	pending := len(order)

	runStart := s.clock.Now()
	s.emit(progress.Event{RunID: runID, TS: runStart, Stage: progress.StageRunStart, Note: fmt.Sprintf("%d urls", len(order))})
	logger.Info("scheduler run started",
		zap.Int("urls", len(order)),
		zap.Int("max_retries", s.cfg.MaxRetries),
		zap.Duration("initial_delay", s.cfg.InitialDelay),
	)

	for pending > 0 {
		if err := ctx.Err(); err != nil {
			return s.report(runID, order, tasks, docs, retries), err
		}

		eligible := s.eligible(order, tasks, s.clock.Now())
		if len(eligible) > 0 {
			outcomes := s.attemptAll(ctx, logger, runID, eligible, tasks)
			canceled := ctx.Err() != nil
			for _, o := range outcomes {
				task := tasks[o.url]
				if o.doc != nil || !canceled {
					s.emitFetch(runID, task.RetryCount+1, o)
				}
				if o.doc != nil {
					task.State = crawler.TaskSucceeded
					docs[o.url] = *o.doc
					pending--
					metrics.ObserveTask(string(crawler.TaskSucceeded))
					continue
				}
				if canceled {
					// Interrupted attempts do not consume retry budget.
					continue
				}
				finished := o.finished
				task.RetryCount++
				task.LastAttempt = &finished
				retries++
				if s.policy.Exhausted(task.RetryCount) {
					task.State = crawler.TaskFailed
					pending--
					metrics.ObserveTask(string(crawler.TaskFailed))
					s.emit(progress.Event{
						RunID:   runID,
						TS:      finished,
						Stage:   progress.StageTaskFailed,
						URL:     o.url,
						Site:    crawler.Host(o.url),
						Attempt: task.RetryCount,
						Note:    o.reason,
					})
					logger.Warn("url permanently failed",
						zap.String("url", o.url),
						zap.Int("retry_count", task.RetryCount),
					)
					continue
				}
				metrics.ObserveTask("retry")
				logger.Debug("url scheduled for retry",
					zap.String("url", o.url),
					zap.Int("retry_count", task.RetryCount),
					zap.Duration("backoff", s.policy.Backoff(task.RetryCount)),
				)
			}
		}
		metrics.ObserveTick()

		if pending == 0 {
			break
		}
		if err := s.clock.Sleep(ctx, s.cfg.TickInterval); err != nil {
			return s.report(runID, order, tasks, docs, retries), err
		}
	}

	report := s.report(runID, order, tasks, docs, retries)
	end := s.clock.Now()
	s.emit(progress.Event{
		RunID:     runID,
		TS:        end,
		Stage:     progress.StageRunDone,
		Dur:       max(end.Sub(runStart), 0),
		Succeeded: len(report.Succeeded),
		Failed:    len(report.Failed),
	})
	if len(report.Failed) > 0 {
		logger.Warn("scheduler run finished with failures",
			zap.Int("succeeded", len(report.Succeeded)),
			zap.Strings("failed", report.Failed),
		)
	} else {
		logger.Info("scheduler run finished",
			zap.Int("succeeded", len(report.Succeeded)),
			zap.Int("retries", retries),
		)
	}
	return report, nil
}

func (s *Scheduler) eligible(order []string, tasks map[string]*crawler.FetchTask, now time.Time) []string {
	var out []string
	for _, u := range order {
		task := tasks[u]
		if task.State.Terminal() {
			continue
		}
		if task.LastAttempt == nil || now.Sub(*task.LastAttempt) >= s.policy.Backoff(task.RetryCount) {
			out = append(out, u)
		}
	}
	return out
}

func (s *Scheduler) attemptAll(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	urls []string,
	tasks map[string]*crawler.FetchTask,
) []outcome {
	outcomes := make([]outcome, len(urls))
	var g errgroup.Group
	g.SetLimit(s.cfg.Concurrency)
	for i, u := range urls {
		g.Go(func() error {
			outcomes[i] = s.tracedAttempt(ctx, logger.With(zap.String("url", u)), runID, u, tasks[u].RetryCount+1)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *Scheduler) tracedAttempt(ctx context.Context, logger *zap.Logger, runID, rawURL string, attempt int) outcome {
	ctx, span := s.tracer.Start(ctx, "scheduler.attempt", trace.WithAttributes(
		attribute.String("run.id", runID),
		attribute.String("url.full", rawURL),
		attribute.Int("scheduler.attempt", attempt),
	))
	defer span.End()

	o := s.attempt(ctx, logger, runID, rawURL)
	span.SetAttributes(attribute.Bool("scheduler.stored", o.doc != nil))
	if o.doc == nil {
		telemetry.FailSpan(span, o.reason)
	}
	return o
}

// attempt performs one fetch and, on success, stores the content.
func (s *Scheduler) attempt(ctx context.Context, logger *zap.Logger, runID, rawURL string) outcome {
	o := outcome{url: rawURL, started: s.clock.Now()}
	attemptCtx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	result, err := s.fetcher.Fetch(attemptCtx, rawURL, false)
	cancel()
	o.result = result
	if err != nil {
		logger.Warn("fetch attempt aborted", zap.Error(err))
		o.reason = err.Error()
		o.finished = s.clock.Now()
		return o
	}
	if result == nil || result.Content == "" {
		o.reason = "no content"
		o.finished = s.clock.Now()
		return o
	}

	doc, err := s.store.Write(ctx, rawURL, result.Content)
	if err != nil {
		logger.Error("failed to store document", zap.Error(err))
		o.reason = "store: " + err.Error()
		o.finished = s.clock.Now()
		return o
	}
	o.finished = s.clock.Now()
	o.doc = &doc
	metrics.ObserveDocumentStored(rawURL)
	s.record(ctx, logger, runID, result, doc, o.finished)
	return o
}

func (s *Scheduler) emit(evt progress.Event) {
	if s.progress != nil {
		s.progress.Emit(evt)
	}
}

func (s *Scheduler) emitFetch(runID string, attempt int, o outcome) {
	if s.progress == nil {
		return
	}
	evt := progress.Event{
		RunID:   runID,
		TS:      o.finished,
		URL:     o.url,
		Site:    crawler.Host(o.url),
		Attempt: attempt,
		Dur:     max(o.finished.Sub(o.started), 0),
		Note:    o.reason,
	}
	if o.result != nil {
		evt.Strategy = string(o.result.Strategy)
		evt.Bytes = int64(len(o.result.Content))
		if o.result.StatusCode > 0 {
			evt.StatusClass = progress.ClassifyStatus(o.result.StatusCode)
		}
	}
	if o.doc != nil {
		evt.Stage = progress.StageFetchDone
		if evt.StatusClass == "" {
			evt.StatusClass = progress.Status2xx
		}
	} else {
		evt.Stage = progress.StageFetchFailed
	}
	s.progress.Emit(evt)
}

func (s *Scheduler) record(
	ctx context.Context,
	logger *zap.Logger,
	runID string,
	result *crawler.FetchResult,
	doc crawler.StoredDocument,
	at time.Time,
) {
	if s.index != nil {
		err := s.index.RecordDocument(ctx, crawler.DocumentRecord{
			RunID:       runID,
			URL:         doc.URL,
			ContentHash: doc.ContentHash,
			FileName:    doc.FileName,
			Strategy:    result.Strategy,
			StatusCode:  result.StatusCode,
			FetchedAt:   at,
		})
		if err != nil {
			logger.Warn("failed to index document", zap.Error(err))
		}
	}
	if s.publisher != nil && s.cfg.Topic != "" {
		event := crawler.DocumentStoredEvent{
			RunID:       runID,
			URL:         doc.URL,
			ContentHash: doc.ContentHash,
			FileName:    doc.FileName,
			Strategy:    result.Strategy,
			StoredAt:    at,
		}
		if _, err := s.publisher.Publish(ctx, s.cfg.Topic, event); err != nil {
			logger.Warn("failed to publish document event", zap.Error(err))
		}
	}
}

func (s *Scheduler) report(
	runID string,
	order []string,
	tasks map[string]*crawler.FetchTask,
	docs map[string]crawler.StoredDocument,
	retries int,
) Report {
	r := Report{
		RunID:     runID,
		Succeeded: []string{},
		Failed:    []string{},
		Pending:   []string{},
		Tasks:     make(map[string]crawler.FetchTask, len(tasks)),
		Documents: docs,
		Retries:   retries,
	}
	for _, u := range order {
		task := tasks[u]
		r.Tasks[u] = *task
		switch task.State {
		case crawler.TaskSucceeded:
			r.Succeeded = append(r.Succeeded, u)
		case crawler.TaskFailed:
			r.Failed = append(r.Failed, u)
		default:
			r.Pending = append(r.Pending, u)
		}
	}
	sort.Strings(r.Succeeded)
	sort.Strings(r.Failed)
	sort.Strings(r.Pending)
	return r
}

// dedupe validates every URL and drops repeats, keeping first-seen order.
func dedupe(urls []string) ([]string, error) {
	seen := make(map[string]struct{}, len(urls))
	out := make([]string, 0, len(urls))
	for _, raw := range urls {
		if _, err := crawler.ValidateURL(raw); err != nil {
			return nil, err
		}
		if _, ok := seen[raw]; ok {
			continue
		}
		seen[raw] = struct{}{}
		out = append(out, raw)
	}
	return out, nil
}
