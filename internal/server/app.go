// Package server builds the scraper's long-lived services from configuration
// and runs the HTTP service.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/research-scraper/internal/api"
	"github.com/JakeFAU/research-scraper/internal/clock/system"
	"github.com/JakeFAU/research-scraper/internal/config"
	"github.com/JakeFAU/research-scraper/internal/crawler"
	"github.com/JakeFAU/research-scraper/internal/dispatcher"
	"github.com/JakeFAU/research-scraper/internal/fetcher"
	collyfetcher "github.com/JakeFAU/research-scraper/internal/fetcher/colly"
	headlessfetcher "github.com/JakeFAU/research-scraper/internal/fetcher/headless"
	"github.com/JakeFAU/research-scraper/internal/hash/sha256"
	"github.com/JakeFAU/research-scraper/internal/headless/detector"
	"github.com/JakeFAU/research-scraper/internal/id/uuid"
	"github.com/JakeFAU/research-scraper/internal/logging"
	"github.com/JakeFAU/research-scraper/internal/policy/ratelimit"
	"github.com/JakeFAU/research-scraper/internal/policy/robots"
	"github.com/JakeFAU/research-scraper/internal/processor"
	"github.com/JakeFAU/research-scraper/internal/progress"
	"github.com/JakeFAU/research-scraper/internal/progress/sinks"
	gcppublisher "github.com/JakeFAU/research-scraper/internal/publisher/pubsub"
	"github.com/JakeFAU/research-scraper/internal/querygen"
	queuememory "github.com/JakeFAU/research-scraper/internal/queue/memory"
	"github.com/JakeFAU/research-scraper/internal/research"
	"github.com/JakeFAU/research-scraper/internal/scheduler"
	"github.com/JakeFAU/research-scraper/internal/search"
	scraperstorage "github.com/JakeFAU/research-scraper/internal/storage"
	gcsstorage "github.com/JakeFAU/research-scraper/internal/storage/gcs"
	localstorage "github.com/JakeFAU/research-scraper/internal/storage/local"
	"github.com/JakeFAU/research-scraper/internal/storage/memory"
	pgstore "github.com/JakeFAU/research-scraper/internal/storage/postgres"
	"github.com/JakeFAU/research-scraper/internal/telemetry"
	"github.com/JakeFAU/research-scraper/internal/transform"
	"github.com/JakeFAU/research-scraper/internal/worker"
)

const shutdownTimeout = 10 * time.Second

// App holds the services shared by every command.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  crawler.Clock
	ids    crawler.IDGenerator

	htmlStore     *localstorage.Store
	markdownStore *localstorage.Store
	documents     crawler.DocumentStore
	index         *pgstore.DocumentIndex
	publisher     *gcppublisher.Publisher

	pubsubClient *pubsub.Client
	gcsClient    *storage.Client
	gemini       *querygen.GeminiModel
	progress     *progress.Hub

	fetcher   *fetcher.ContentFetcher
	scheduler *scheduler.Scheduler
	processor *processor.Processor

	tracerShutdown func(context.Context) error
	metricShutdown func(context.Context) error
}

// Build creates the scrape and extraction services. Search and query
// generation are built on demand since they need credentials.
func Build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	app := &App{
		cfg:    cfg,
		logger: logger,
		clock:  system.New(),
		ids:    uuid.New(),
	}
	logger.Info("building application dependencies")

	if err := app.setupTelemetry(ctx); err != nil {
		return nil, err
	}
	if err := app.setupStorage(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupDatabase(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupPublisher(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupProgress(ctx); err != nil {
		app.Close(ctx)
		return nil, err
	}
	if err := app.setupPipeline(); err != nil {
		app.Close(ctx)
		return nil, err
	}
	return app, nil
}

func (a *App) setupTelemetry(ctx context.Context) error {
	if !a.cfg.Telemetry.Enabled {
		return nil
	}
	tp, mp, err := telemetry.InitTelemetry(ctx, a.cfg.Telemetry)
	if err != nil {
		return fmt.Errorf("tracer init failed: %w", err)
	}
	a.tracerShutdown = tp.Shutdown
	a.metricShutdown = mp.Shutdown
	a.logger.Info("telemetry enabled",
		zap.String("service", a.cfg.Telemetry.ServiceName),
		zap.Bool("cloud_trace", a.cfg.Telemetry.ProjectID != ""),
	)
	return nil
}

func (a *App) setupStorage(ctx context.Context) error {
	hasher := sha256.New()
	var err error
	a.htmlStore, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Store.HTMLDir}, hasher, logging.Component(a.logger, "html_store"))
	if err != nil {
		return fmt.Errorf("html store init failed: %w", err)
	}
	a.markdownStore, err = localstorage.New(localstorage.Config{BaseDir: a.cfg.Store.MarkdownDir}, hasher, logging.Component(a.logger, "markdown_store"))
	if err != nil {
		return fmt.Errorf("markdown store init failed: %w", err)
	}

	var mirror crawler.BlobStore
	switch {
	case a.cfg.GCS.Enabled:
		a.gcsClient, err = storage.NewClient(ctx)
		if err != nil {
			return fmt.Errorf("gcs client init failed: %w", err)
		}
		mirror, err = gcsstorage.New(a.gcsClient, gcsstorage.Config{
			Bucket:       a.cfg.GCS.Bucket,
			CacheControl: a.cfg.GCS.CacheControl,
		})
		if err != nil {
			return fmt.Errorf("gcs blob store init failed: %w", err)
		}
		a.logger.Info("mirroring documents to GCS", zap.String("bucket", a.cfg.GCS.Bucket))
	case a.cfg.Store.MirrorDir != "":
		mirror, err = localstorage.NewBlobStore(localstorage.BlobConfig{BaseDir: a.cfg.Store.MirrorDir})
		if err != nil {
			return fmt.Errorf("local mirror init failed: %w", err)
		}
		a.logger.Info("mirroring documents locally", zap.String("path", a.cfg.Store.MirrorDir))
	}
	a.documents, err = scraperstorage.NewMirroredStore(a.htmlStore, mirror, a.cfg.GCS.Prefix, logging.Component(a.logger, "mirror"))
	if err != nil {
		return fmt.Errorf("document store init failed: %w", err)
	}
	a.logger.Debug("local storage configured",
		zap.String("html_dir", a.cfg.Store.HTMLDir),
		zap.String("markdown_dir", a.cfg.Store.MarkdownDir),
	)
	return nil
}

func (a *App) setupDatabase(ctx context.Context) error {
	if !a.cfg.Postgres.Enabled {
		a.logger.Debug("postgres disabled, documents will not be indexed")
		return nil
	}
	var err error
	a.index, err = pgstore.NewDocumentIndex(ctx, pgstore.Config{
		DSN:      a.cfg.Postgres.DSN,
		Table:    a.cfg.Postgres.Table,
		MaxConns: a.cfg.Postgres.MaxConns,
	})
	if err != nil {
		return fmt.Errorf("document index init failed: %w", err)
	}
	if err := a.index.EnsureSchema(ctx); err != nil {
		return fmt.Errorf("document index schema: %w", err)
	}
	a.logger.Info("document index initialized", zap.String("table", a.cfg.Postgres.Table))
	return nil
}

func (a *App) setupPublisher(ctx context.Context) error {
	if !a.cfg.PubSub.Enabled {
		a.logger.Debug("pubsub disabled, no document events will be published")
		return nil
	}
	var err error
	a.pubsubClient, err = pubsub.NewClient(ctx, a.cfg.PubSub.ProjectID)
	if err != nil {
		return fmt.Errorf("pubsub client init failed: %w", err)
	}
	a.publisher = gcppublisher.New(a.pubsubClient.Publisher(a.cfg.PubSub.Topic))
	a.logger.Info("Pub/Sub publisher initialized",
		zap.String("project", a.cfg.PubSub.ProjectID),
		zap.String("topic", a.cfg.PubSub.Topic),
	)
	return nil
}

func (a *App) setupProgress(ctx context.Context) error {
	if !a.cfg.Progress.Enabled {
		return nil
	}
	var consumers []progress.Sink
	if a.cfg.Progress.Log {
		consumers = append(consumers, sinks.NewLogSink(logging.Component(a.logger, "progress")))
	}
	if a.index != nil {
		repo, err := a.index.ProgressStore(a.cfg.Postgres.RunsTable, a.cfg.Postgres.SitesTable)
		if err != nil {
			return fmt.Errorf("progress store init failed: %w", err)
		}
		if err := repo.EnsureSchema(ctx); err != nil {
			return fmt.Errorf("progress store schema: %w", err)
		}
		consumers = append(consumers, sinks.NewStoreSink(repo))
	}
	a.progress = progress.NewHub(progress.Config{
		BufferSize:     a.cfg.Progress.BufferSize,
		MaxBatchEvents: a.cfg.Progress.MaxBatchEvents,
		MaxBatchWait:   a.cfg.ProgressBatchWait(),
		Logger:         logging.Component(a.logger, "progress_hub"),
	}, consumers...)
	a.logger.Info("progress stream enabled", zap.Int("sinks", len(consumers)))
	return nil
}

func (a *App) setupPipeline() error {
	primary := collyfetcher.New(collyfetcher.Config{
		UserAgent:     a.cfg.Fetch.UserAgent,
		RespectRobots: a.cfg.Fetch.RespectRobots,
		Timeout:       a.cfg.FetchTimeout(),
		MaxBodyBytes:  a.cfg.Fetch.MaxBodyBytes,
	})
	var secondary crawler.Fetcher
	if a.cfg.Headless.Enabled {
		headless, err := headlessfetcher.NewChromedp(headlessfetcher.Config{
			MaxParallel:       a.cfg.Headless.MaxParallel,
			UserAgent:         a.cfg.Fetch.UserAgent,
			NavigationTimeout: a.cfg.NavTimeout(),
			SettleDelay:       time.Duration(a.cfg.Headless.SettleDelayMs) * time.Millisecond,
			ExecPath:          a.cfg.Headless.ExecPath,
			NoSandbox:         a.cfg.Headless.NoSandbox,
		})
		if err != nil {
			a.logger.Warn("headless fetcher init failed, continuing without rendering", zap.Error(err))
		} else {
			secondary = headless
			a.logger.Info("using headless fallback", zap.Int("max_parallel", a.cfg.Headless.MaxParallel))
		}
	}
	detect := detector.NewHeuristic(detector.Config{
		Keywords:          a.cfg.Detector.Keywords,
		MinBodyBytes:      a.cfg.Detector.MinBodyBytes,
		RequiredSelectors: a.cfg.Detector.RequiredSelectors,
		DetectSPA:         a.cfg.Detector.DetectSPA,
	})
	var limiter crawler.RateLimiter
	if a.cfg.Fetch.RatePerHost > 0 {
		limiter = ratelimit.New(ratelimit.Config{
			DefaultRPS:   a.cfg.Fetch.RatePerHost,
			DefaultBurst: a.cfg.Fetch.BurstPerHost,
		})
		a.logger.Info("per-host rate limit enabled",
			zap.Float64("rps", a.cfg.Fetch.RatePerHost),
			zap.Int("burst", a.cfg.Fetch.BurstPerHost),
		)
	}

	var fetchOpts []fetcher.Option
	if a.cfg.Fetch.RespectRobots && secondary != nil {
		fetchOpts = append(fetchOpts, fetcher.WithRobots(robots.New(robots.Config{
			UserAgent: a.cfg.Fetch.UserAgent,
			Timeout:   a.cfg.FetchTimeout(),
		}, logging.Component(a.logger, "robots"))))
	}

	var err error
	a.fetcher, err = fetcher.New(
		fetcher.Config{MaxRetries: a.cfg.Fetch.MaxRetries, InitialRetryDelay: a.cfg.FetchRetryDelay()},
		primary,
		secondary,
		detect,
		limiter,
		a.clock,
		logging.Component(a.logger, "fetcher"),
		fetchOpts...,
	)
	if err != nil {
		return fmt.Errorf("content fetcher init failed: %w", err)
	}

	var index crawler.DocumentIndex
	if a.index != nil {
		index = a.index
	}
	var publisher crawler.Publisher
	if a.publisher != nil {
		publisher = a.publisher
	}
	var opts []scheduler.Option
	if a.progress != nil {
		opts = append(opts, scheduler.WithProgress(a.progress))
	}
	a.scheduler, err = scheduler.New(
		scheduler.Config{
			MaxRetries:   a.cfg.Scheduler.MaxRetries,
			InitialDelay: a.cfg.SchedulerDelay(),
			Timeout:      a.cfg.SchedulerTimeout(),
			TickInterval: a.cfg.TickInterval(),
			Concurrency:  a.cfg.Scheduler.Concurrency,
			Topic:        a.cfg.PubSub.Topic,
		},
		a.fetcher,
		a.documents,
		index,
		publisher,
		a.clock,
		logging.Component(a.logger, "scheduler"),
		opts...,
	)
	if err != nil {
		return fmt.Errorf("scheduler init failed: %w", err)
	}

	transformer, err := transform.New(transform.Config{
		Mode:        transform.Mode(a.cfg.Transform.Mode),
		ExcludeTags: a.cfg.Transform.ExcludeTags,
	})
	if err != nil {
		return fmt.Errorf("transformer init failed: %w", err)
	}
	a.processor, err = processor.New(transformer, logging.Component(a.logger, "processor"))
	if err != nil {
		return fmt.Errorf("processor init failed: %w", err)
	}
	return nil
}

// Logger returns the application logger.
func (a *App) Logger() *zap.Logger {
	return a.logger
}

// Scheduler returns the retrying scrape scheduler.
func (a *App) Scheduler() *scheduler.Scheduler {
	return a.scheduler
}

// NewRunID returns a fresh run identifier.
func (a *App) NewRunID() (string, error) {
	return a.ids.NewID()
}

// Scrape fetches and stores urls under a fresh run id.
func (a *App) Scrape(ctx context.Context, urls []string) (scheduler.Report, error) {
	runID, err := a.ids.NewID()
	if err != nil {
		return scheduler.Report{}, fmt.Errorf("generate run id: %w", err)
	}
	return a.scheduler.Run(ctx, runID, urls)
}

// Search runs a single web search. lastNDays overrides the configured
// recency window when positive.
func (a *App) Search(ctx context.Context, query string, lastNDays int) ([]crawler.SearchResult, error) {
	client, err := a.Searcher(ctx)
	if err != nil {
		return nil, err
	}
	if lastNDays <= 0 {
		lastNDays = a.cfg.Search.LastNDays
	}
	return client.Search(ctx, query, search.Options{LastNDays: lastNDays})
}

// RunResearch builds the research pipeline and runs it for objective.
func (a *App) RunResearch(ctx context.Context, objective string) (research.Result, error) {
	pipeline, err := a.Research(ctx)
	if err != nil {
		return research.Result{}, err
	}
	return pipeline.Run(ctx, objective)
}

// Extract converts every stored HTML document into text files.
func (a *App) Extract(ctx context.Context) (processor.Summary, error) {
	return a.processor.ProcessDirectory(ctx, a.htmlStore, a.markdownStore)
}

// Searcher builds the web search client.
func (a *App) Searcher(ctx context.Context) (*search.Client, error) {
	client, err := search.New(ctx, search.Config{
		APIKey:          a.cfg.Search.APIKey,
		EngineID:        a.cfg.Search.EngineID,
		MaxRetries:      a.cfg.Search.MaxRetries,
		InitialDelay:    a.cfg.SearchDelay(),
		ResultsPerQuery: a.cfg.Search.ResultsPerQuery,
	}, a.clock, logging.Component(a.logger, "search"))
	if err != nil {
		return nil, fmt.Errorf("search client init failed: %w", err)
	}
	return client, nil
}

// Research builds the objective-driven pipeline. Missing LLM credentials
// fail here, before any network call.
func (a *App) Research(ctx context.Context) (*research.Pipeline, error) {
	if a.gemini == nil {
		model, err := querygen.NewGemini(ctx, querygen.GeminiConfig{
			APIKey:      a.cfg.LLM.APIKey,
			Model:       a.cfg.LLM.Model,
			Temperature: a.cfg.LLM.Temperature,
		})
		if err != nil {
			return nil, err
		}
		a.gemini = model
	}
	generator, err := querygen.New(a.gemini, querygen.Config{Count: a.cfg.LLM.QueryCount}, logging.Component(a.logger, "querygen"))
	if err != nil {
		return nil, err
	}
	searcher, err := a.Searcher(ctx)
	if err != nil {
		return nil, err
	}
	return research.New(
		research.Config{
			MaxQueries:   a.cfg.Research.MaxQueries,
			MaxURLs:      a.cfg.Research.MaxURLs,
			LastNDays:    a.cfg.Search.LastNDays,
			BlockedHosts: a.cfg.Research.BlockedHosts,
		},
		research.Dependencies{
			Generator: generator,
			Searcher:  searcher,
			Scraper:   a.scheduler,
			Extractor: a.processor,
			Source:    a.htmlStore,
			Sink:      a.markdownStore,
			IDs:       a.ids,
		},
		logging.Component(a.logger, "research"),
	)
}

// Handler builds the HTTP API backed by a run queue and worker pool. The
// returned dispatcher must be run for queued work to execute.
func (a *App) Handler() (http.Handler, *dispatcher.Dispatcher, *queuememory.Queue) {
	queue := queuememory.NewQueue(a.cfg.Queue.Depth)
	runs := memory.NewRunStore()
	workers := make([]*worker.Worker, 0, a.cfg.Workers.Count)
	for i := 0; i < a.cfg.Workers.Count; i++ {
		workers = append(workers, worker.New(i, queue, runs, a.scheduler, logging.Component(a.logger, "worker")))
	}
	dispatch := dispatcher.New(queue, runs, a.ids, a.clock, workers, logging.Component(a.logger, "dispatcher"))

	checks := map[string]api.ReadinessCheck{}
	if a.index != nil {
		checks["postgres"] = a.index.Ping
	}
	srv := api.NewServer(dispatch, a.cfg, checks, logging.Component(a.logger, "api"))
	return srv.Handler(), dispatch, queue
}

// Serve runs the HTTP API and worker pool until ctx is canceled.
func (a *App) Serve(ctx context.Context) error {
	handler, dispatch, queue := a.Handler()
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		a.logger.Info("dispatcher started", zap.Int("workers", a.cfg.Workers.Count))
		dispatch.Run(ctx)
	}()

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Server.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("http server started", zap.Int("port", a.cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			stop()
		}
	}()

	<-ctx.Done()
	a.logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("server shutdown error", zap.Error(err))
	}
	queue.Close()
	<-done

	select {
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	default:
		return nil
	}
}

// Close releases clients and flushes pending messages. It is safe to call
// on a partially built App.
func (a *App) Close(ctx context.Context) {
	if a.progress != nil {
		if err := a.progress.Close(ctx); err != nil {
			a.logger.Warn("progress hub close failed", zap.Error(err))
		}
	}
	if a.publisher != nil {
		a.publisher.Stop()
	}
	if a.pubsubClient != nil {
		if err := a.pubsubClient.Close(); err != nil {
			a.logger.Warn("pubsub client close failed", zap.Error(err))
		}
	}
	if a.gcsClient != nil {
		if err := a.gcsClient.Close(); err != nil {
			a.logger.Warn("gcs client close failed", zap.Error(err))
		}
	}
	if a.gemini != nil {
		if err := a.gemini.Close(); err != nil {
			a.logger.Warn("gemini client close failed", zap.Error(err))
		}
	}
	if a.index != nil {
		a.index.Close()
	}
	if a.tracerShutdown != nil {
		if err := a.tracerShutdown(ctx); err != nil {
			a.logger.Warn("tracer shutdown failed", zap.Error(err))
		}
	}
	if a.metricShutdown != nil {
		if err := a.metricShutdown(ctx); err != nil {
			a.logger.Warn("meter shutdown failed", zap.Error(err))
		}
	}
	a.logger.Debug("application services closed")
}
